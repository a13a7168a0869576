package mail

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// MaxBodyChars caps the plain-text body carried on a message.
const MaxBodyChars = 20000

// Message is the normalized record every downstream component consumes.
// Adapters construct it once from a provider's raw payload; nothing mutates
// it afterwards.
type Message struct {
	ID        string
	ThreadID  string
	Date      time.Time
	FromEmail string // raw From header, may include a display name
	Subject   string
	Snippet   string
	Body      string
}

// BodyOrSnippet returns the full body when present, falling back to the
// snippet preview.
func (m Message) BodyOrSnippet() string {
	if m.Body != "" {
		return m.Body
	}
	return m.Snippet
}

// SenderAddress returns the lowercased bare address parsed from the From
// header.
func (m Message) SenderAddress() string {
	return AddressOf(m.FromEmail)
}

// SenderDomain returns the lowercased domain of the From header.
func (m Message) SenderDomain() string {
	return DomainOf(m.FromEmail)
}

var (
	angleAddrRe = regexp.MustCompile(`<([^>]+)>`)
	domainRe    = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)
	safeEmailRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

// AddressOf extracts the bare email address from a raw From header.
// Malformed headers degrade to the trimmed lowercased input rather than
// erroring, matching how lenient mail clients treat them.
func AddressOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if a, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(strings.TrimSpace(a.Address))
	}
	if m := angleAddrRe.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	return strings.ToLower(raw)
}

// DisplayNameOf extracts the display name from a raw From header, or "" when
// the header carries only an address.
func DisplayNameOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if a, err := mail.ParseAddress(raw); err == nil {
		return strings.TrimSpace(a.Name)
	}
	if idx := strings.Index(raw, "<"); idx > 0 {
		name := strings.TrimSpace(raw[:idx])
		return strings.Trim(name, `"'`)
	}
	return ""
}

// DomainOf returns the lowercased domain following the first @ in a raw From
// header, or "" when none is present.
func DomainOf(raw string) string {
	if m := domainRe.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// SafeEmail replaces characters unsuitable for filenames so addresses can be
// embedded in token file names.
func SafeEmail(email string) string {
	return safeEmailRe.ReplaceAllString(email, "_")
}

// TruncateBody enforces the body size cap.
func TruncateBody(body string) string {
	if len(body) > MaxBodyChars {
		return body[:MaxBodyChars]
	}
	return body
}
