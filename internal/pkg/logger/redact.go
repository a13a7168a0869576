package logger

import "strings"

// RedactEmail masks a mailbox address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Local parts of ≤2 chars are fully masked: "ab@example.com" → "***@example.com"
// Raw From headers ("Name <addr>") that don't split cleanly become "***@***".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
