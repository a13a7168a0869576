// Package report builds the optional diagnostic outputs: the rule-hit
// markdown report, the application-key debug tables, the per-message
// domain report, and the OA reconciliation tables. All of them read the
// same per-message diagnostic stream the pipeline records while
// classifying.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MessageDiagnostic is one classification decision with the identity
// extraction details attached. Classified messages carry the top event's
// fields; ignored messages carry the ignore reason instead.
type MessageDiagnostic struct {
	MessageID           string
	Date                time.Time
	FromEmail           string
	FromDomain          string
	Subject             string
	ThreadID            string
	Ignored             bool
	IgnoreReason        string
	RuleID              string
	EventType           string
	Stage               string
	Confidence          float64
	CompanyName         string
	CompanyDomain       string
	CompanyDomainSource string
	RoleTitle           string
	RoleTitleConfidence float64
	ApplicationKey      string
	KeySource           string
}

func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// topItems renders the topk most frequent non-empty values as
// "value (count)" pairs, ties broken by value.
func topItems(values []string, topk, cap int) string {
	counts := map[string]int{}
	for _, v := range values {
		if v == "" {
			continue
		}
		counts[v]++
	}
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
	if len(keys) > topk {
		keys = keys[:topk]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		label := k
		if len(label) > cap {
			label = label[:cap]
		}
		parts = append(parts, fmt.Sprintf("%s (%d)", label, counts[k]))
	}
	return strings.Join(parts, ", ")
}

// mostCommonNonEmpty returns the most frequent non-empty value; ties go
// to the value seen first.
func mostCommonNonEmpty(values []string) string {
	counts := map[string]int{}
	var order []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best := ""
	bestCount := 0
	for _, v := range order {
		if counts[v] > bestCount {
			best = v
			bestCount = counts[v]
		}
	}
	return best
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
