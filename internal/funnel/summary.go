package funnel

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ignite/offertracker/internal/classify"
	"github.com/ignite/offertracker/internal/identity"
)

// summaryATSDomains mark senders whose domain never names the employer for
// the rule-path application table.
var summaryATSDomains = []string{
	"myworkday.com",
	"workday.com",
	"greenhouse.io",
	"lever.co",
	"icims.com",
	"icims.eu",
	"ashbyhq.com",
}

var statusPriority = map[string]int{
	"Applied":      10,
	"In Review":    20,
	"OA":           30,
	"Interviewing": 40,
	"Offer":        50,
	"Rejected":     60,
	"Withdrawn":    70,
}

var eventRank = map[string]int{
	classify.EventWithdrawn:           7,
	classify.EventRejection:           6,
	classify.EventOffer:               5,
	classify.EventInterviewInvite:     4,
	classify.EventRoundUpdate:         4,
	classify.EventOA:                  3,
	classify.EventStatusUpdate:        2,
	classify.EventApplicationReceived: 1,
}

// SummaryMessageRow is the rule path's per-message projection consumed by
// the application table builder.
type SummaryMessageRow struct {
	MessageID           string
	ThreadID            string
	Date                time.Time
	FromDomain          string
	Subject             string
	CompanyName         string
	CompanyDomain       string
	RoleTitle           string
	RoleTitleConfidence float64
	ApplicationKey      string
}

// SummaryRow is one application in application_summary.csv.
type SummaryRow struct {
	ApplicationID      string
	ThreadID           string
	CompanyName        string
	CompanyDomain      string
	RoleTitle          string
	CurrentStatus      string
	LastEventDate      time.Time
	EvidenceFromDomain string
	EvidenceSubject    string
	EvidenceEventType  string
	EvidenceStage      string
	EvidenceConfidence string
	MessageCount       int
	EventCountsJSON    string
}

func isSummaryATSDomain(domain string) bool {
	for _, d := range summaryATSDomains {
		if domain == d || strings.HasSuffix(domain, d) {
			return true
		}
	}
	return false
}

var subjectCompanyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brole at ([A-Z][A-Za-z0-9& .'-]{1,64})`),
	regexp.MustCompile(`\bposition at ([A-Z][A-Za-z0-9& .'-]{1,64})`),
	regexp.MustCompile(`\bat ([A-Z][A-Za-z0-9& .'-]{1,64})`),
}

var multiSpaceRe = regexp.MustCompile(`\s+`)

func companyNameFromSubject(subject string) string {
	for _, re := range subjectCompanyPatterns {
		if m := re.FindStringSubmatch(subject); m != nil {
			name := strings.Trim(multiSpaceRe.ReplaceAllString(m[1], " "), " .,-|")
			if name != "" {
				return strings.ToLower(name)
			}
		}
	}
	return ""
}

// ApplicationID derives the row's grouping id: thread id when present, then
// a domain|role key for confident role extractions, last a content hash so
// unkeyable messages still land in a stable bucket.
func ApplicationID(row SummaryMessageRow) string {
	if row.ThreadID != "" {
		return "thread:" + row.ThreadID
	}
	if row.RoleTitleConfidence >= 0.6 && row.CompanyDomain != "" && row.RoleTitle != "" {
		return "key:" + identity.Normalize(row.CompanyDomain) + "|" + identity.Normalize(row.RoleTitle)
	}
	seed := row.FromDomain + "|" + strings.ToLower(truncate(row.Subject, 80)) + "|" + row.ApplicationKey
	sum := sha1.Sum([]byte(seed))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

// statusFromEvents resolves the application status from its event set.
// Terminal statuses always beat non-terminal; a rejection and an offer on
// the same application resolve by whichever happened later.
func statusFromEvents(events []classify.Event) string {
	types := map[string]bool{}
	var lastRejection, lastOffer time.Time
	for _, e := range events {
		types[e.Type] = true
		switch e.Type {
		case classify.EventRejection:
			if e.OccurredAt.After(lastRejection) {
				lastRejection = e.OccurredAt
			}
		case classify.EventOffer:
			if e.OccurredAt.After(lastOffer) {
				lastOffer = e.OccurredAt
			}
		}
	}

	switch {
	case types[classify.EventWithdrawn]:
		return "Withdrawn"
	case types[classify.EventRejection] && types[classify.EventOffer]:
		if lastOffer.After(lastRejection) {
			return "Offer"
		}
		return "Rejected"
	case types[classify.EventRejection]:
		return "Rejected"
	case types[classify.EventOffer]:
		return "Offer"
	case types[classify.EventInterviewInvite] || types[classify.EventRoundUpdate]:
		return "Interviewing"
	case types[classify.EventOA]:
		return "OA"
	case types[classify.EventStatusUpdate]:
		return "In Review"
	default:
		return "Applied"
	}
}

func bestEvidence(events []classify.Event) classify.Event {
	best := events[0]
	for _, e := range events[1:] {
		br, er := eventRank[best.Type], eventRank[e.Type]
		if er > br ||
			(er == br && e.Confidence > best.Confidence) ||
			(er == br && e.Confidence == best.Confidence && e.OccurredAt.After(best.OccurredAt)) {
			best = e
		}
	}
	return best
}

func eventCountsJSON(events []classify.Event) string {
	counts := map[string]int{}
	for _, e := range events {
		counts[e.Type]++
	}
	payload, _ := json.Marshal(counts)
	return string(payload)
}

// BuildApplicationSummaryRows joins per-message identity rows with rule
// events into one row per application.
func BuildApplicationSummaryRows(messages []SummaryMessageRow, events []classify.Event) []SummaryRow {
	byAppMessages := map[string][]SummaryMessageRow{}
	byAppEvents := map[string][]classify.Event{}
	msgToApp := map[string]string{}

	for _, row := range messages {
		appID := ApplicationID(row)
		byAppMessages[appID] = append(byAppMessages[appID], row)
		msgToApp[row.MessageID] = appID
	}
	for _, ev := range events {
		appID := msgToApp[ev.Evidence.MessageID]
		if appID == "" {
			if ev.Evidence.ThreadID != "" {
				appID = "thread:" + ev.Evidence.ThreadID
			} else {
				appID = "key:" + identity.Normalize(ev.ApplicationKey)
			}
		}
		byAppEvents[appID] = append(byAppEvents[appID], ev)
	}

	appIDs := map[string]bool{}
	for id := range byAppMessages {
		appIDs[id] = true
	}
	for id := range byAppEvents {
		appIDs[id] = true
	}
	sortedIDs := make([]string, 0, len(appIDs))
	for id := range appIDs {
		sortedIDs = append(sortedIDs, id)
	}
	sort.Strings(sortedIDs)

	rows := make([]SummaryRow, 0, len(sortedIDs))
	for _, appID := range sortedIDs {
		msgs := append([]SummaryMessageRow(nil), byAppMessages[appID]...)
		evs := append([]classify.Event(nil), byAppEvents[appID]...)
		if len(msgs) == 0 && len(evs) == 0 {
			continue
		}
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].OccurredAt.Before(evs[j].OccurredAt) })

		threadID := ""
		if len(msgs) > 0 {
			threadID = msgs[0].ThreadID
		}

		var nonATSDomains, extractedDomains []string
		for _, m := range msgs {
			if m.FromDomain != "" && !isSummaryATSDomain(m.FromDomain) {
				nonATSDomains = append(nonATSDomains, m.FromDomain)
			}
			if m.CompanyDomain != "" {
				extractedDomains = append(extractedDomains, m.CompanyDomain)
			}
		}
		companyDomain := mostCommon(nonATSDomains)
		if companyDomain == "" {
			companyDomain = mostCommon(extractedDomains)
		}
		if companyDomain == "" && len(msgs) > 0 {
			companyDomain = msgs[0].FromDomain
		}

		companyName := ""
		if len(msgs) > 0 && isSummaryATSDomain(msgs[0].FromDomain) {
			var names []string
			for _, m := range msgs {
				if n := companyNameFromSubject(m.Subject); n != "" {
					names = append(names, n)
				}
			}
			companyName = mostCommon(names)
		}
		if companyName == "" {
			var names []string
			for _, m := range msgs {
				if m.CompanyName != "" {
					names = append(names, m.CompanyName)
				}
			}
			companyName = mostCommon(names)
		}
		if companyName == "" && companyDomain != "" {
			parts := strings.Split(companyDomain, ".")
			if len(parts) >= 2 {
				companyName = parts[len(parts)-2]
			} else {
				companyName = companyDomain
			}
		}

		roleTitle := ""
		bestRoleConf := -1.0
		var bestRoleDate time.Time
		for _, m := range msgs {
			if m.RoleTitle == "" {
				continue
			}
			if m.RoleTitleConfidence > bestRoleConf ||
				(m.RoleTitleConfidence == bestRoleConf && m.Date.After(bestRoleDate)) {
				bestRoleConf = m.RoleTitleConfidence
				bestRoleDate = m.Date
				roleTitle = m.RoleTitle
			}
		}

		row := SummaryRow{
			ApplicationID:   appID,
			ThreadID:        threadID,
			CompanyName:     companyName,
			CompanyDomain:   companyDomain,
			RoleTitle:       roleTitle,
			CurrentStatus:   statusFromEvents(evs),
			MessageCount:    len(msgs),
			EventCountsJSON: eventCountsJSON(evs),
		}

		switch {
		case len(evs) > 0:
			row.LastEventDate = evs[len(evs)-1].OccurredAt
		case len(msgs) > 0:
			row.LastEventDate = msgs[len(msgs)-1].Date
		}

		if len(evs) > 0 {
			evidence := bestEvidence(evs)
			row.EvidenceFromDomain = evidence.Evidence.FromDomain
			row.EvidenceSubject = truncate(evidence.Evidence.Subject, 160)
			row.EvidenceEventType = evidence.Type
			row.EvidenceStage = evidence.Stage
			row.EvidenceConfidence = classify.FormatConfidence(evidence.Confidence)
		} else if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			row.EvidenceFromDomain = last.FromDomain
			row.EvidenceSubject = truncate(last.Subject, 160)
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CompanyDomain != rows[j].CompanyDomain {
			return rows[i].CompanyDomain < rows[j].CompanyDomain
		}
		if rows[i].RoleTitle != rows[j].RoleTitle {
			return rows[i].RoleTitle < rows[j].RoleTitle
		}
		return rows[i].LastEventDate.Before(rows[j].LastEventDate)
	})
	return rows
}

// CompanyConsoleSummary renders the per-domain digest for the rule path.
func CompanyConsoleSummary(rows []SummaryRow) []string {
	grouped := map[string][]SummaryRow{}
	var domains []string
	for _, r := range rows {
		domain := r.CompanyDomain
		if domain == "" {
			domain = "<unknown>"
		}
		if _, seen := grouped[domain]; !seen {
			domains = append(domains, domain)
		}
		grouped[domain] = append(grouped[domain], r)
	}
	sort.SliceStable(domains, func(i, j int) bool {
		if len(grouped[domains[i]]) != len(grouped[domains[j]]) {
			return len(grouped[domains[i]]) > len(grouped[domains[j]])
		}
		return domains[i] < domains[j]
	})

	lines := []string{"Application summary by company_domain"}
	for _, domain := range domains {
		domainRows := grouped[domain]
		roles := map[string]bool{}
		statusCounts := map[string]int{}
		for _, r := range domainRows {
			roles[strings.ToLower(strings.TrimSpace(r.RoleTitle))] = true
			statusCounts[r.CurrentStatus]++
		}
		statuses := make([]string, 0, len(statusCounts))
		for s := range statusCounts {
			statuses = append(statuses, s)
		}
		sort.SliceStable(statuses, func(i, j int) bool {
			return statusPriority[statuses[i]] > statusPriority[statuses[j]]
		})
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, fmt.Sprintf("%s:%d", s, statusCounts[s]))
		}
		lines = append(lines, fmt.Sprintf("- %s | roles_count=%d | %s", domain, len(roles), strings.Join(parts, ", ")))
	}
	return lines
}
