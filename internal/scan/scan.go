// Package scan is the first-pass relevance filter: it removes obvious
// non-job noise before classification so rule hits and LLM spend stay
// focused on plausible job mail. Decisions are recorded per message for the
// first-scan debug report.
package scan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/offertracker/internal/mail"
)

// atsWhitelist domains always pass: an ATS sender is job mail by
// construction, whatever the subject says.
var atsWhitelist = []string{
	"greenhouse.io",
	"lever.co",
	"ashbyhq.com",
	"workday.com",
	"myworkday.com",
	"icims.com",
	"icims.eu",
	"smartrecruiters.com",
	"jobvite.com",
	"successfactors.com",
	"teamtailor.com",
	"recruitee.com",
	"hackerrank.com",
	"hackerrankforwork.com",
	"codility.com",
	"codesignal.com",
	"hirevue.com",
}

var strongJobSignals = []string{
	"applying",
	"application received",
	"application update",
	"your application",
	"interview",
	"availability",
	"schedule",
	"next steps",
	"offer",
	"not moving forward",
	"regret to inform",
	"assessment",
	"coding challenge",
}

var interviewScheduleTokens = []string{"interview", "screen", "availability"}

var calendarVendors = []string{"calendly.com", "zoom.us", "teams.microsoft.com", "microsoft.com"}

var socialDomains = []string{"linkedin.com", "bizreach.co.jp"}

var calendarResponsePrefixes = []string{"accepted:", "declined:", "tentative:"}

// Decision is the filter verdict for one message.
type Decision struct {
	Keep       bool
	Reason     string
	FromDomain string
}

// ReportRow is one first-scan report line; one per fetched message.
type ReportRow struct {
	MessageID  string
	Date       time.Time
	FromDomain string
	Subject    string
	Kept       bool
	DropReason string
}

func hasAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func domainSuffixMatch(domain string, suffixes []string) bool {
	for _, s := range suffixes {
		if domain == s || strings.HasSuffix(domain, "."+s) {
			return true
		}
	}
	return false
}

// IsRelevant decides keep-or-drop for one message, first match wins.
func IsRelevant(msg mail.Message) Decision {
	subject := strings.ToLower(strings.TrimSpace(msg.Subject))
	domain := msg.SenderDomain()

	for _, prefix := range calendarResponsePrefixes {
		if strings.HasPrefix(subject, prefix) {
			return Decision{Keep: false, Reason: "calendar_response_subject_prefix", FromDomain: domain}
		}
	}
	if strings.Contains(subject, "newsletter") || strings.Contains(subject, "digest") {
		return Decision{Keep: false, Reason: "newsletter_digest_subject", FromDomain: domain}
	}

	hasStrongSignal := hasAny(subject, strongJobSignals)

	if domainSuffixMatch(domain, socialDomains) && !hasStrongSignal {
		return Decision{Keep: false, Reason: "social_without_job_signal", FromDomain: domain}
	}
	if domainSuffixMatch(domain, atsWhitelist) {
		return Decision{Keep: true, Reason: "ats_whitelist_domain", FromDomain: domain}
	}
	if domainSuffixMatch(domain, calendarVendors) {
		if hasAny(subject, interviewScheduleTokens) {
			return Decision{Keep: true, Reason: "calendar_vendor_interview", FromDomain: domain}
		}
		return Decision{Keep: false, Reason: "calendar_vendor_without_interview_token", FromDomain: domain}
	}
	if hasStrongSignal {
		return Decision{Keep: true, Reason: "strong_subject_signal", FromDomain: domain}
	}
	return Decision{Keep: false, Reason: "no_first_scan_signal", FromDomain: domain}
}

// Filter applies IsRelevant over a batch, returning the kept messages and a
// report row per input message sorted by (date, id).
func Filter(messages []mail.Message) ([]mail.Message, []ReportRow) {
	kept := make([]mail.Message, 0, len(messages))
	rows := make([]ReportRow, 0, len(messages))
	for _, msg := range messages {
		d := IsRelevant(msg)
		if d.Keep {
			kept = append(kept, msg)
		}
		row := ReportRow{
			MessageID:  msg.ID,
			Date:       msg.Date,
			FromDomain: d.FromDomain,
			Subject:    truncate(msg.Subject, 160),
			Kept:       d.Keep,
		}
		if !d.Keep {
			row.DropReason = d.Reason
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].MessageID < rows[j].MessageID
	})
	return kept, rows
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

type domainCount struct {
	key   string
	count int
}

func topCounts(counts map[string]int, limit int) []domainCount {
	out := make([]domainCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, domainCount{key: k, count: v})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary renders the operator-facing first-scan digest: totals plus the
// top-20 kept domains, dropped domains and dropped subjects.
func Summary(rows []ReportRow) []string {
	keptDomains := map[string]int{}
	droppedDomains := map[string]int{}
	droppedSubjects := map[string]int{}
	keptTotal := 0

	for _, r := range rows {
		domain := r.FromDomain
		if domain == "" {
			domain = "<empty>"
		}
		if r.Kept {
			keptTotal++
			keptDomains[domain]++
			continue
		}
		droppedDomains[domain]++
		droppedSubjects[truncate(r.Subject, 100)]++
	}

	lines := []string{
		"First-scan summary",
		fmt.Sprintf("- total fetched: %d", len(rows)),
		fmt.Sprintf("- total kept: %d", keptTotal),
		fmt.Sprintf("- total dropped: %d", len(rows)-keptTotal),
		"top 20 kept domains:",
	}
	for _, dc := range topCounts(keptDomains, 20) {
		lines = append(lines, fmt.Sprintf("- %s: %d", dc.key, dc.count))
	}
	lines = append(lines, "top 20 dropped domains:")
	for _, dc := range topCounts(droppedDomains, 20) {
		lines = append(lines, fmt.Sprintf("- %s: %d", dc.key, dc.count))
	}
	lines = append(lines, "top 20 dropped subjects:")
	for _, dc := range topCounts(droppedSubjects, 20) {
		lines = append(lines, fmt.Sprintf("- %s: %d", dc.key, dc.count))
	}
	return lines
}
