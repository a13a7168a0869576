package funnel

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ignite/offertracker/internal/classify"
)

var stageRank = map[string]int{
	classify.StageApplied:   1,
	classify.StageOA:        2,
	classify.StageInterview: 3,
	classify.StageRejected:  3,
	classify.StageOffer:     4,
	classify.StageWithdrawn: 0,
}

var responseEventTypes = map[string]bool{
	classify.EventInterviewInvite: true,
	classify.EventOA:              true,
	classify.EventRejection:       true,
	classify.EventOffer:           true,
	classify.EventRoundUpdate:     true,
	classify.EventWithdrawn:       true,
}

var evidenceStagePriority = map[string]int{
	classify.StageOffer:     5,
	classify.StageRejected:  4,
	classify.StageInterview: 3,
	classify.StageOA:        2,
	classify.StageApplied:   1,
	classify.StageWithdrawn: 1,
}

// Metrics are the rule-path funnel counters (metrics.json).
type Metrics struct {
	Applications int `json:"applications"`
	Replies      int `json:"replies"`
	NoReplies    int `json:"no_replies"`
	OA           int `json:"oa"`
	Withdrawn    int `json:"withdrawn"`
	Interviews   int `json:"interviews"`
	Offers       int `json:"offers"`
	Rejected     int `json:"rejected"`
}

// Rates are conversion percentages between funnel stages.
type Rates struct {
	ReplyRatePct                   float64 `json:"reply_rate_pct"`
	OARateFromRepliesPct           float64 `json:"oa_rate_from_replies_pct"`
	InterviewRateFromOAPct         float64 `json:"interview_rate_from_oa_pct"`
	OfferRateFromInterviewsPct     float64 `json:"offer_rate_from_interviews_pct"`
	RejectionRateFromInterviewsPct float64 `json:"rejection_rate_from_interviews_pct"`
	ApplicationToOfferPct          float64 `json:"application_to_offer_pct"`
}

// AuditEvidence is one of up to three supporting events on an audit row.
type AuditEvidence struct {
	Date        time.Time
	Domain      string
	Subject     string
	EventType   string
	Stage       string
	Confidence  float64
	MessageID   string
	ThreadID    string
	SnippetHash string
}

// AuditRow explains every counted flag for one application.
type AuditRow struct {
	ApplicationKey   string
	CompanyDomain    string
	CompanyName      string
	RoleTitle        string
	FirstSeen        time.Time
	LastSeen         time.Time
	CountedApplied   int
	CountedReplied   int
	CountedNoReplies int
	CountedOA        int
	CountedInterview int
	CountedOffers    int
	CountedRejected  int
	CountedWithdrawn int
	MaxStageReached  string
	ReplyReason      string
	OAReason         string
	InterviewReason  string
	OfferReason      string
	RejectionReason  string
	WithdrawnReason  string
	Evidence         []AuditEvidence
}

// aggregate accumulates one application's events in date order.
type aggregate struct {
	key             string
	firstSeen       time.Time
	lastSeen        time.Time
	events          []classify.Event
	eventTypes      map[string]bool
	maxStageReached string
	hasRejection    bool
	hasWithdrawn    bool
	companyDomain   string
}

func buildAggregates(events []classify.Event) map[string]*aggregate {
	sorted := append([]classify.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })

	apps := map[string]*aggregate{}
	for _, e := range sorted {
		app, ok := apps[e.ApplicationKey]
		if !ok {
			app = &aggregate{
				key:             e.ApplicationKey,
				firstSeen:       e.OccurredAt,
				lastSeen:        e.OccurredAt,
				eventTypes:      map[string]bool{},
				maxStageReached: classify.StageApplied,
			}
			apps[e.ApplicationKey] = app
		}
		if e.OccurredAt.Before(app.firstSeen) {
			app.firstSeen = e.OccurredAt
		}
		if e.OccurredAt.After(app.lastSeen) {
			app.lastSeen = e.OccurredAt
		}
		app.events = append(app.events, e)
		app.eventTypes[e.Type] = true
		if stageRank[e.Stage] > stageRank[app.maxStageReached] {
			app.maxStageReached = e.Stage
		}
		if e.Type == classify.EventRejection || e.Stage == classify.StageRejected {
			app.hasRejection = true
		}
		if e.Type == classify.EventWithdrawn || e.Stage == classify.StageWithdrawn {
			app.hasWithdrawn = true
		}
		if app.companyDomain == "" && e.Evidence.FromDomain != "" {
			app.companyDomain = e.Evidence.FromDomain
		}
	}
	return apps
}

func roleFromKey(appKey, companyDomain string) string {
	key := strings.TrimSpace(appKey)
	if companyDomain == "" {
		return ""
	}
	// Keys are normalized, domains are not: "acme.com" appears as "acme com".
	domainNorm := strings.TrimSpace(strings.ReplaceAll(companyDomain, ".", " "))
	if strings.HasPrefix(key, domainNorm) {
		return strings.TrimSpace(key[len(domainNorm):])
	}
	return ""
}

func selectEvidence(events []classify.Event) []AuditEvidence {
	ranked := append([]classify.Event(nil), events...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if evidenceStagePriority[a.Stage] != evidenceStagePriority[b.Stage] {
			return evidenceStagePriority[a.Stage] > evidenceStagePriority[b.Stage]
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.OccurredAt.After(b.OccurredAt)
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	out := make([]AuditEvidence, 0, len(ranked))
	for _, e := range ranked {
		out = append(out, AuditEvidence{
			Date:        e.OccurredAt,
			Domain:      e.Evidence.FromDomain,
			Subject:     e.Evidence.Subject,
			EventType:   e.Type,
			Stage:       e.Stage,
			Confidence:  e.Confidence,
			MessageID:   e.Evidence.MessageID,
			ThreadID:    e.Evidence.ThreadID,
			SnippetHash: e.Evidence.SubjectSnippetHash,
		})
	}
	return out
}

// BuildAuditRows derives one audit row per application key with every
// counted flag and its reason.
func BuildAuditRows(events []classify.Event) []AuditRow {
	apps := buildAggregates(events)

	rows := make([]AuditRow, 0, len(apps))
	for _, app := range apps {
		responses := make([]string, 0, len(app.eventTypes))
		for t := range app.eventTypes {
			if responseEventTypes[t] {
				responses = append(responses, t)
			}
		}
		sort.Strings(responses)

		row := AuditRow{
			ApplicationKey:  app.key,
			CompanyDomain:   app.companyDomain,
			CompanyName:     companyNameFromDomain(app.companyDomain),
			RoleTitle:       roleFromKey(app.key, app.companyDomain),
			FirstSeen:       app.firstSeen,
			LastSeen:        app.lastSeen,
			CountedApplied:  1,
			MaxStageReached: app.maxStageReached,
			Evidence:        selectEvidence(app.events),
		}

		if len(responses) > 0 {
			row.CountedReplied = 1
			row.ReplyReason = "response_event:" + strings.Join(responses, ",")
		} else {
			row.CountedNoReplies = 1
			row.ReplyReason = "no_response_event"
		}
		if app.eventTypes[classify.EventOA] {
			row.CountedOA = 1
			row.OAReason = "has_oa_event"
		}
		if app.eventTypes[classify.EventInterviewInvite] || app.eventTypes[classify.EventRoundUpdate] {
			row.CountedInterview = 1
			row.InterviewReason = "has_interview_event"
		}
		if app.eventTypes[classify.EventOffer] {
			row.CountedOffers = 1
			row.OfferReason = "has_offer_event"
		}
		if app.maxStageReached == classify.StageRejected || app.hasRejection {
			row.CountedRejected = 1
			row.RejectionReason = "has_rejection_event"
		}
		if app.hasWithdrawn {
			row.CountedWithdrawn = 1
			row.WithdrawnReason = "has_withdrawn_event"
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
		return rows[i].FirstSeen.Before(rows[j].FirstSeen)
	})
	return rows
}

func companyNameFromDomain(domain string) string {
	if domain == "" {
		return ""
	}
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return parts[0]
	}
	return parts[len(parts)-2]
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*100*100) / 100
}

// MetricsFromAuditRows sums the counted flags.
func MetricsFromAuditRows(rows []AuditRow) Metrics {
	var m Metrics
	for _, r := range rows {
		m.Applications += r.CountedApplied
		m.Replies += r.CountedReplied
		m.NoReplies += r.CountedNoReplies
		m.OA += r.CountedOA
		m.Interviews += r.CountedInterview
		m.Offers += r.CountedOffers
		m.Rejected += r.CountedRejected
		m.Withdrawn += r.CountedWithdrawn
	}
	return m
}

// ComputeRates derives stage-conversion percentages from the counters.
func ComputeRates(m Metrics) Rates {
	return Rates{
		ReplyRatePct:                   rate(m.Replies, m.Applications),
		OARateFromRepliesPct:           rate(m.OA, m.Replies),
		InterviewRateFromOAPct:         rate(m.Interviews, m.OA),
		OfferRateFromInterviewsPct:     rate(m.Offers, m.Interviews),
		RejectionRateFromInterviewsPct: rate(m.Rejected, m.Interviews),
		ApplicationToOfferPct:          rate(m.Offers, m.Applications),
	}
}

// ComputeFunnel is the rule path's one-call entry: audit rows, summed
// counters, rates, plus a consistency warning when any row's reply flags
// disagree with its applied flag.
func ComputeFunnel(events []classify.Event) (Metrics, Rates, []string, []AuditRow) {
	rows := BuildAuditRows(events)
	metrics := MetricsFromAuditRows(rows)
	rates := ComputeRates(metrics)

	var warnings []string
	bad := 0
	for _, r := range rows {
		if r.CountedReplied+r.CountedNoReplies != r.CountedApplied {
			bad++
		}
	}
	if bad > 0 {
		warnings = append(warnings, fmt.Sprintf("reply/no_reply consistency issue for %d applications", bad))
	}
	return metrics, rates, warnings, rows
}
