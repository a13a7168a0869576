package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/offertracker/internal/artifact"
)

// WriteDomainReport persists the full per-message extraction trace, one
// row per decision, sorted by (date, message id).
func WriteDomainReport(path string, diags []MessageDiagnostic) (string, error) {
	header := []string{
		"message_id", "date", "from_email_domain", "from_email", "subject", "thread_id",
		"ignored", "ignore_reason", "matched_rule_id", "event_type", "stage", "confidence",
		"extracted_company_name", "extracted_company_domain", "company_domain_source",
		"role_title", "role_title_confidence", "application_key", "key_source",
	}

	sorted := append([]MessageDiagnostic(nil), diags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].MessageID < sorted[j].MessageID
	})

	records := make([][]string, 0, len(sorted))
	for _, d := range sorted {
		records = append(records, []string{
			d.MessageID, isoDate(d.Date), d.FromDomain, truncate(d.FromEmail, 160),
			truncate(d.Subject, 160), d.ThreadID,
			fmt.Sprintf("%t", d.Ignored), d.IgnoreReason, d.RuleID, d.EventType, d.Stage,
			diagConfidence(d),
			d.CompanyName, d.CompanyDomain, d.CompanyDomainSource,
			d.RoleTitle, fmt.Sprintf("%.2f", d.RoleTitleConfidence),
			d.ApplicationKey, d.KeySource,
		})
	}
	return artifact.WriteTable(path, header, records)
}

func countDesc(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// DomainDebugConsoleSummary prints domain extraction health: top sender
// and extracted domains, unknown/echoed rates, and the busiest keys.
func DomainDebugConsoleSummary(diags []MessageDiagnostic) []string {
	lines := []string{"Domain debug summary"}
	total := len(diags)
	if total == 0 {
		return append(lines, "no messages processed")
	}

	fromCounts := map[string]int{}
	extractedCounts := map[string]int{}
	keyCounts := map[string]int{}
	unknown := 0
	sameAsSender := 0
	for _, d := range diags {
		from := d.FromDomain
		if from == "" {
			from = "<empty>"
		}
		fromCounts[from]++

		extracted := d.CompanyDomain
		if extracted == "" {
			extracted = "<unknown>"
		}
		extractedCounts[extracted]++

		keyCounts[d.ApplicationKey]++

		if strings.TrimSpace(d.CompanyDomain) == "" {
			unknown++
		} else if d.CompanyDomain == d.FromDomain {
			sameAsSender++
		}
	}

	lines = append(lines, "top 30 from_email_domain by message count:")
	for i, domain := range countDesc(fromCounts) {
		if i >= 30 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %d", domain, fromCounts[domain]))
	}

	lines = append(lines, "top 30 extracted_company_domain by message count:")
	for i, domain := range countDesc(extractedCounts) {
		if i >= 30 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %d", domain, extractedCounts[domain]))
	}

	lines = append(lines,
		fmt.Sprintf("extracted_company_domain empty/unknown: %d/%d (%.1f%%)", unknown, total, 100*float64(unknown)/float64(total)),
		fmt.Sprintf("extracted_company_domain == from_email_domain: %d/%d (%.1f%%)", sameAsSender, total, 100*float64(sameAsSender)/float64(total)),
		"top 20 application_keys by message_count:")
	for i, key := range countDesc(keyCounts) {
		if i >= 20 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %d", key, keyCounts[key]))
	}
	return lines
}
