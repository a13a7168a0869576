package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/offertracker/internal/classify"
)

func summaryMsg(id, thread, domain, subject string, day int) SummaryMessageRow {
	return SummaryMessageRow{
		MessageID:      id,
		ThreadID:       thread,
		Date:           time.Date(2026, 3, day, 9, 0, 0, 0, time.UTC),
		FromDomain:     domain,
		Subject:        subject,
		ApplicationKey: "key-" + id,
	}
}

func ruleEvent(msgID, thread, key, eventType, stage string, confidence float64, day int) classify.Event {
	return classify.Event{
		Type:           eventType,
		Stage:          stage,
		OccurredAt:     time.Date(2026, 3, day, 9, 0, 0, 0, time.UTC),
		Confidence:     confidence,
		ApplicationKey: key,
		Evidence: classify.Evidence{
			MessageID:  msgID,
			ThreadID:   thread,
			FromDomain: "acme.com",
			Subject:    "evidence subject",
		},
	}
}

func TestApplicationIDPrecedence(t *testing.T) {
	assert.Equal(t, "thread:t1", ApplicationID(SummaryMessageRow{ThreadID: "t1"}))

	keyed := SummaryMessageRow{
		CompanyDomain:       "acme.com",
		RoleTitle:           "Staff Engineer",
		RoleTitleConfidence: 0.9,
	}
	assert.Equal(t, "key:acme com|staff engineer", ApplicationID(keyed))

	hashed := ApplicationID(SummaryMessageRow{FromDomain: "acme.com", Subject: "hello", ApplicationKey: "k"})
	assert.True(t, len(hashed) == len("hash:")+12)
	assert.Contains(t, hashed, "hash:")
	// Same inputs always hash to the same id.
	assert.Equal(t, hashed, ApplicationID(SummaryMessageRow{FromDomain: "acme.com", Subject: "hello", ApplicationKey: "k"}))

	// Low-confidence roles never form a key id.
	lowConf := keyed
	lowConf.RoleTitleConfidence = 0.5
	assert.Contains(t, ApplicationID(lowConf), "hash:")
}

func TestStatusFromEventsPrecedence(t *testing.T) {
	mk := func(types ...string) []classify.Event {
		var evs []classify.Event
		for i, tp := range types {
			stage := map[string]string{
				classify.EventWithdrawn:           classify.StageWithdrawn,
				classify.EventRejection:           classify.StageRejected,
				classify.EventOffer:               classify.StageOffer,
				classify.EventInterviewInvite:     classify.StageInterview,
				classify.EventRoundUpdate:         classify.StageInterview,
				classify.EventOA:                  classify.StageOA,
				classify.EventStatusUpdate:        classify.StageApplied,
				classify.EventApplicationReceived: classify.StageApplied,
			}[tp]
			evs = append(evs, ruleEvent("m", "t", "k", tp, stage, 0.9, i+1))
		}
		return evs
	}

	assert.Equal(t, "Withdrawn", statusFromEvents(mk(classify.EventOffer, classify.EventWithdrawn)))
	assert.Equal(t, "Rejected", statusFromEvents(mk(classify.EventInterviewInvite, classify.EventRejection)))
	assert.Equal(t, "Offer", statusFromEvents(mk(classify.EventOA, classify.EventOffer)))
	assert.Equal(t, "Interviewing", statusFromEvents(mk(classify.EventRoundUpdate)))
	assert.Equal(t, "OA", statusFromEvents(mk(classify.EventOA)))
	assert.Equal(t, "In Review", statusFromEvents(mk(classify.EventStatusUpdate)))
	assert.Equal(t, "Applied", statusFromEvents(mk(classify.EventApplicationReceived)))
	assert.Equal(t, "Applied", statusFromEvents(nil))
}

func TestStatusRejectionAndOfferResolveByLaterDate(t *testing.T) {
	rejectionFirst := []classify.Event{
		ruleEvent("m1", "t", "k", classify.EventRejection, classify.StageRejected, 0.95, 2),
		ruleEvent("m2", "t", "k", classify.EventOffer, classify.StageOffer, 0.9, 8),
	}
	assert.Equal(t, "Offer", statusFromEvents(rejectionFirst))

	offerFirst := []classify.Event{
		ruleEvent("m1", "t", "k", classify.EventOffer, classify.StageOffer, 0.9, 2),
		ruleEvent("m2", "t", "k", classify.EventRejection, classify.StageRejected, 0.95, 8),
	}
	assert.Equal(t, "Rejected", statusFromEvents(offerFirst))
}

func TestBuildApplicationSummaryRows(t *testing.T) {
	messages := []SummaryMessageRow{
		summaryMsg("m1", "t1", "acme.com", "Thanks for applying", 1),
		summaryMsg("m2", "t1", "acme.com", "Interview confirmation", 5),
		summaryMsg("m3", "t2", "widget.io", "Application received", 2),
	}
	events := []classify.Event{
		ruleEvent("m1", "t1", "k1", classify.EventApplicationReceived, classify.StageApplied, 0.9, 1),
		ruleEvent("m2", "t1", "k1", classify.EventInterviewInvite, classify.StageInterview, 0.9, 5),
		ruleEvent("m3", "t2", "k2", classify.EventApplicationReceived, classify.StageApplied, 0.9, 2),
	}

	rows := BuildApplicationSummaryRows(messages, events)

	require.Len(t, rows, 2)
	acme := rows[0]
	assert.Equal(t, "thread:t1", acme.ApplicationID)
	assert.Equal(t, "acme.com", acme.CompanyDomain)
	assert.Equal(t, "acme", acme.CompanyName)
	assert.Equal(t, "Interviewing", acme.CurrentStatus)
	assert.Equal(t, 2, acme.MessageCount)
	assert.Equal(t, "interview_invite", acme.EvidenceEventType)
	assert.Equal(t, "0.90", acme.EvidenceConfidence)
	assert.Equal(t, `{"application_received":1,"interview_invite":1}`, acme.EventCountsJSON)

	widget := rows[1]
	assert.Equal(t, "thread:t2", widget.ApplicationID)
	assert.Equal(t, "Applied", widget.CurrentStatus)
}

func TestBuildApplicationSummaryRowsATSDomainUsesSubjectCompany(t *testing.T) {
	messages := []SummaryMessageRow{
		summaryMsg("m1", "t1", "greenhouse.io", "Your application for the Backend role at Widget", 1),
	}
	events := []classify.Event{
		ruleEvent("m1", "t1", "k1", classify.EventApplicationReceived, classify.StageApplied, 0.9, 1),
	}

	rows := BuildApplicationSummaryRows(messages, events)

	require.Len(t, rows, 1)
	assert.Equal(t, "widget", rows[0].CompanyName)
	// The ATS relay is the only observed domain, so it remains the domain
	// column even though the name came from the subject.
	assert.Equal(t, "greenhouse.io", rows[0].CompanyDomain)
}

func TestBuildApplicationSummaryRowsEventWithoutMessage(t *testing.T) {
	events := []classify.Event{
		ruleEvent("orphan", "", "acme com staff engineer", classify.EventOA, classify.StageOA, 0.9, 3),
	}

	rows := BuildApplicationSummaryRows(nil, events)

	require.Len(t, rows, 1)
	assert.Equal(t, "key:acme com staff engineer", rows[0].ApplicationID)
	assert.Equal(t, "OA", rows[0].CurrentStatus)
}

func TestCompanyConsoleSummary(t *testing.T) {
	rows := []SummaryRow{
		{CompanyDomain: "acme.com", RoleTitle: "swe", CurrentStatus: "Rejected"},
		{CompanyDomain: "acme.com", RoleTitle: "sre", CurrentStatus: "Applied"},
		{CompanyDomain: "widget.io", RoleTitle: "swe", CurrentStatus: "Offer"},
	}

	lines := CompanyConsoleSummary(rows)

	assert.Equal(t, "Application summary by company_domain", lines[0])
	assert.Equal(t, "- acme.com | roles_count=2 | Rejected:1, Applied:1", lines[1])
	assert.Equal(t, "- widget.io | roles_count=1 | Offer:1", lines[2])
}
