// Package funnel aggregates per-message classifications into per-application
// tables and funnel summaries. Both classifier paths land here: the AI path
// groups verdict rows by resolved company, the rule path groups events by
// application key.
package funnel

import (
	"fmt"
	"sort"
	"time"

	"github.com/ignite/offertracker/internal/classify"
	"github.com/ignite/offertracker/internal/identity"
)

// ApplicationRow is one application on the AI path (ai_application_table).
type ApplicationRow struct {
	ApplicationID   string
	Company         string
	Position        string
	ApplicationDate time.Time
	CurrentStatus   string
	LastEventDate   time.Time
	EmailCount      int
	EvidenceSubject string
}

// AISummary is the funnel digest on the AI path (ai_result_summary.json).
type AISummary struct {
	Applications               int `json:"applications"`
	Interviews                 int `json:"interviews"`
	NoResponse                 int `json:"no_response"`
	RejectionsTotal            int `json:"rejections_total"`
	RejectionsWithInterview    int `json:"rejections_with_interview"`
	RejectionsWithoutInterview int `json:"rejections_without_interview"`
	Offers                     int `json:"offers"`
}

// groupAIRows partitions job-related, non-RSVP rows by application id:
// resolved company when known, otherwise thread:<id> / msg:<id>.
func groupAIRows(rows []classify.AIMessageRow) (map[string][]classify.AIMessageRow, []string) {
	aliases := classify.BuildDomainAliasMap(rows)
	grouped := map[string][]classify.AIMessageRow{}
	var order []string
	for _, r := range rows {
		if !r.IsJobRelated {
			continue
		}
		if classify.IsCalendarRSVPNoise(r.FromEmailAddress, r.Subject) {
			continue
		}
		appID := classify.ResolvedRowCompany(r, aliases)
		if appID == "" {
			if r.ThreadID != "" {
				appID = "thread:" + r.ThreadID
			} else {
				appID = "msg:" + r.MessageID
			}
		}
		if _, seen := grouped[appID]; !seen {
			order = append(order, appID)
		}
		grouped[appID] = append(grouped[appID], r)
	}
	return grouped, order
}

func mostCommon(values []string) string {
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

// BuildApplicationRows groups verdict rows into one row per application.
// Status comes from the best row by (status priority, date); interview
// verdicts count only when the row carries a meeting-invite signal.
func BuildApplicationRows(rows []classify.AIMessageRow) []ApplicationRow {
	grouped, order := groupAIRows(rows)
	aliases := classify.BuildDomainAliasMap(rows)

	out := make([]ApplicationRow, 0, len(order))
	for _, appID := range order {
		group := grouped[appID]

		companies := make([]string, 0, len(group))
		positions := make([]string, 0, len(group))
		for _, r := range group {
			companies = append(companies, classify.ResolvedRowCompany(r, aliases))
			positions = append(positions, identity.Normalize(r.Position))
		}

		applicationDate := group[0].Date
		lastEventDate := group[0].Date
		for _, r := range group[1:] {
			if r.Date.Before(applicationDate) {
				applicationDate = r.Date
			}
			if r.Date.After(lastEventDate) {
				lastEventDate = r.Date
			}
		}

		bestRow := group[0]
		bestStatus := "Applied"
		bestPriority := -1
		var bestDate time.Time
		for _, r := range group {
			status := classify.StatusByAIEvent[classify.EffectiveEventType(r)]
			if status == "" {
				status = "Applied"
			}
			priority := classify.AIStatusPriority[status]
			if priority > bestPriority || (priority == bestPriority && r.Date.After(bestDate)) {
				bestPriority = priority
				bestDate = r.Date
				bestRow = r
				bestStatus = status
			}
		}

		out = append(out, ApplicationRow{
			ApplicationID:   appID,
			Company:         mostCommon(companies),
			Position:        mostCommon(positions),
			ApplicationDate: applicationDate,
			CurrentStatus:   bestStatus,
			LastEventDate:   lastEventDate,
			EmailCount:      len(group),
			EvidenceSubject: truncate(bestRow.Subject, 160),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Company != out[j].Company {
			return out[i].Company < out[j].Company
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ApplicationDate.Before(out[j].ApplicationDate)
	})
	return out
}

// BuildAISummary computes the seven funnel counters. Each application
// contributes at most once per bucket, and with+without interview always
// sum to rejections_total.
func BuildAISummary(rows []classify.AIMessageRow) AISummary {
	grouped, _ := groupAIRows(rows)

	s := AISummary{Applications: len(grouped)}
	for _, group := range grouped {
		hasInterview := false
		hasRejection := false
		hasOffer := false
		for _, r := range group {
			switch classify.EffectiveEventType(r) {
			case classify.AIEventInterview:
				hasInterview = true
			case classify.AIEventRejection:
				hasRejection = true
			case classify.AIEventOffer:
				hasOffer = true
			}
		}

		if hasInterview {
			s.Interviews++
		}
		if !hasInterview && !hasRejection && !hasOffer {
			s.NoResponse++
		}
		if hasRejection {
			s.RejectionsTotal++
			if hasInterview {
				s.RejectionsWithInterview++
			} else {
				s.RejectionsWithoutInterview++
			}
		}
		if hasOffer {
			s.Offers++
		}
	}
	return s
}

// AIConsoleSummary renders the operator-facing digest lines.
func AIConsoleSummary(s AISummary) []string {
	return []string{
		"AI result summary",
		fmt.Sprintf("- applications: %d", s.Applications),
		fmt.Sprintf("- interviews: %d", s.Interviews),
		fmt.Sprintf("- no_response: %d", s.NoResponse),
		fmt.Sprintf("- rejections (total): %d", s.RejectionsTotal),
		fmt.Sprintf("- rejections (with interview): %d", s.RejectionsWithInterview),
		fmt.Sprintf("- rejections (direct, no interview): %d", s.RejectionsWithoutInterview),
		fmt.Sprintf("- offers: %d", s.Offers),
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
