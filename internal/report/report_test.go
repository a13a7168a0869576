package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/offertracker/internal/classify"
	"github.com/ignite/offertracker/internal/funnel"
)

func day(d int) time.Time {
	return time.Date(2026, 3, d, 10, 0, 0, 0, time.UTC)
}

func classifiedDiag(id string, d int, domain, subject, rule, eventType, stage string, conf float64, key string) MessageDiagnostic {
	return MessageDiagnostic{
		MessageID:      id,
		Date:           day(d),
		FromEmail:      "jobs@" + domain,
		FromDomain:     domain,
		Subject:        subject,
		ThreadID:       "t-" + id,
		RuleID:         rule,
		EventType:      eventType,
		Stage:          stage,
		Confidence:     conf,
		CompanyDomain:  domain,
		CompanyName:    strings.SplitN(domain, ".", 2)[0],
		RoleTitle:      "staff engineer",
		ApplicationKey: key,
		KeySource:      "domain_role",
	}
}

func ignoredDiag(id string, d int, domain, subject, reason string) MessageDiagnostic {
	return MessageDiagnostic{
		MessageID:      id,
		Date:           day(d),
		FromEmail:      "noreply@" + domain,
		FromDomain:     domain,
		Subject:        subject,
		Ignored:        true,
		IgnoreReason:   reason,
		RuleID:         "ignore:" + reason,
		ApplicationKey: "t " + id,
		KeySource:      "thread_fallback",
	}
}

func TestBuildRuleHitReportSections(t *testing.T) {
	diags := []MessageDiagnostic{
		classifiedDiag("m1", 1, "acme.com", "Interview confirmation", "interview_invite:schedule_phrases", classify.EventInterviewInvite, classify.StageInterview, 0.9, "acme com staff engineer"),
		classifiedDiag("m2", 2, "acme.com", "Interview round two", "round_update:round_phrases:next round", classify.EventRoundUpdate, classify.StageInterview, 0.85, "acme com staff engineer"),
		classifiedDiag("m3", 3, "globex.com", "Offer of employment", "offer:core_phrases:offer of employment", classify.EventOffer, classify.StageOffer, 0.9, "globex com staff engineer"),
		ignoredDiag("m4", 4, "news.example.com", "Weekly digest", "no_match"),
	}

	md, err := BuildRuleHitReport(diags, 20, RunMeta{Source: "sample", DateRange: "2026-03-01..2026-03-31", MaxMessages: "2000"})
	require.NoError(t, err)

	assert.Contains(t, md, "# Rule-Hit Confusion Report")
	assert.Contains(t, md, "- total_messages_processed: **4**")
	assert.Contains(t, md, "- total_ignored: **1**")
	assert.Contains(t, md, "- total_classified: **3**")
	assert.Contains(t, md, "- source: **sample**")
	assert.Contains(t, md, "| no_match | 1 | 25.0% |")
	assert.Contains(t, md, "| offer:core_phrases:offer of employment | offer | Offer | 1 | 25.0% | 0.90 |")
	assert.Contains(t, md, "## D) Event type totals (by event_type)")
	assert.Contains(t, md, "## E) Suspicious patterns")
	assert.Contains(t, md, "### interview_invite:schedule_phrases")
	assert.Contains(t, md, "Interview confirmation")
}

func TestRuleHitReportFlagsFreeMailInterviews(t *testing.T) {
	diags := []MessageDiagnostic{
		classifiedDiag("m1", 1, "gmail.com", "Interview invitation", "interview_invite:schedule_phrases", classify.EventInterviewInvite, classify.StageInterview, 0.35, "t m1"),
	}
	md, err := BuildRuleHitReport(diags, 20, RunMeta{})
	require.NoError(t, err)
	assert.Contains(t, md, "interview_invite on free-mail domains: **1**")
}

func TestBuildApplicationDebugRows(t *testing.T) {
	diags := []MessageDiagnostic{
		classifiedDiag("m1", 1, "acme.com", "Thanks for applying", "application_received:core_phrases:thank you for applying", classify.EventApplicationReceived, classify.StageApplied, 0.9, "acme com staff engineer"),
		classifiedDiag("m2", 3, "acme.com", "Interview confirmation", "interview_invite:schedule_phrases", classify.EventInterviewInvite, classify.StageInterview, 0.9, "acme com staff engineer"),
		ignoredDiag("m3", 5, "acme.com", "Feedback survey", "survey_feedback_subject"),
	}
	diags[2].ApplicationKey = "acme com staff engineer"

	rows := BuildApplicationDebugRows(diags)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, "acme com staff engineer", r.ApplicationKey)
	assert.Equal(t, 3, r.MessageCount)
	assert.Equal(t, 2, r.ClassifiedCount)
	assert.Equal(t, 1, r.IgnoredCount)
	assert.Equal(t, classify.StageInterview, r.MaxStageReached)
	assert.True(t, r.HasResponse)
	assert.True(t, r.HasInterview)
	assert.False(t, r.HasOffer)
	// Newest-first subjects.
	assert.Equal(t, "Feedback survey", r.TopSubjects[0])
	assert.Equal(t, "Interview confirmation", r.TopSubjects[1])
}

func TestBuildCompanyCollisionRowsNotes(t *testing.T) {
	appRows := []ApplicationDebugRow{
		{ApplicationKey: "k1", CompanyDomain: "acme.com", RoleTitle: "", MessageCount: 12},
		{ApplicationKey: "k2", CompanyDomain: "acme.com", RoleTitle: "", MessageCount: 2},
		{ApplicationKey: "k3", CompanyDomain: "globex.com", RoleTitle: "staff engineer", MessageCount: 4},
	}

	rows := BuildCompanyCollisionRows(appRows)
	require.Len(t, rows, 2)
	assert.Equal(t, "acme.com", rows[0].CompanyDomain)
	assert.Contains(t, rows[0].Notes, "ROLE_EXTRACTION_WEAK")
	assert.Contains(t, rows[0].Notes, "MERGE_SUSPECT")
	assert.Equal(t, "k1", rows[0].ExampleKey)
	assert.Empty(t, rows[1].Notes)
}

func TestWriteKeyDebugOutputs(t *testing.T) {
	dir := t.TempDir()
	diags := []MessageDiagnostic{
		classifiedDiag("m1", 1, "acme.com", "Thanks for applying", "application_received:core_phrases:thank you for applying", classify.EventApplicationReceived, classify.StageApplied, 0.9, "acme com staff engineer"),
	}

	paths, err := WriteKeyDebugOutputs(dir, diags)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	f, err := os.Open(paths["applications_debug"])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Len(t, records[0], 21)
	assert.Equal(t, "acme com staff engineer", records[1][0])

	assert.FileExists(t, paths["company_collisions"])
	assert.FileExists(t, paths["role_extraction_debug"])
}

func TestWriteDomainReportSortedByDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domain_report.csv")
	diags := []MessageDiagnostic{
		classifiedDiag("m2", 5, "acme.com", "later", "offer:core_phrases:offer of employment", classify.EventOffer, classify.StageOffer, 0.9, "k"),
		classifiedDiag("m1", 1, "acme.com", "earlier", "oa:core_phrases:online assessment", classify.EventOA, classify.StageOA, 0.9, "k"),
	}

	out, err := WriteDomainReport(path, diags)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Len(t, records[0], 19)
	assert.Equal(t, "m1", records[1][0])
	assert.Equal(t, "m2", records[2][0])
}

func TestDomainDebugConsoleSummaryCounts(t *testing.T) {
	diags := []MessageDiagnostic{
		classifiedDiag("m1", 1, "acme.com", "a", "r", classify.EventOA, classify.StageOA, 0.9, "k1"),
		classifiedDiag("m2", 2, "acme.com", "b", "r", classify.EventOA, classify.StageOA, 0.9, "k1"),
	}
	diags[1].CompanyDomain = ""

	lines := DomainDebugConsoleSummary(diags)
	assert.Contains(t, lines, "- acme.com: 2")
	assert.Contains(t, lines, "extracted_company_domain empty/unknown: 1/2 (50.0%)")
	assert.Contains(t, lines, "extracted_company_domain == from_email_domain: 1/2 (50.0%)")
}

func oaEvent(key string, d int, eventType, stage string) classify.Event {
	return classify.Event{
		Type:           eventType,
		Stage:          stage,
		OccurredAt:     day(d),
		Confidence:     0.9,
		ApplicationKey: key,
		Evidence: classify.Evidence{
			MessageID:  "m-" + key,
			FromDomain: "acme.com",
			Subject:    "Online assessment",
		},
	}
}

func TestWriteReconcileOutputsSplitsFalsePositives(t *testing.T) {
	dir := t.TempDir()
	events := []classify.Event{
		oaEvent("with oa", 1, classify.EventOA, classify.StageOA),
		oaEvent("without oa", 2, classify.EventInterviewInvite, classify.StageInterview),
	}
	auditRows := []funnel.AuditRow{
		{ApplicationKey: "with oa", CompanyDomain: "acme.com", CountedOA: 1},
		{ApplicationKey: "without oa", CompanyDomain: "globex.com", CountedOA: 1},
		{ApplicationKey: "never oa", CompanyDomain: "initech.com", CountedOA: 0},
	}

	result, err := WriteReconcileOutputs(filepath.Join(dir, "reconcile_oa.csv"), events, auditRows)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ComputedOAApps)
	assert.Equal(t, 1, result.OAMessages)

	f, err := os.Open(result.FalsePositivesPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "without oa", records[1][0])
	assert.Equal(t, "max_stage>=OA", records[1][6])
}

func TestReconcileConsoleSummary(t *testing.T) {
	lines := ReconcileConsoleSummary(ReconcileResult{
		ComputedOAApps:      2,
		OAMessages:          3,
		MsgCountByEventType: map[string]int{classify.EventOA: 3},
		AppCountByMaxStage:  map[string]int{classify.StageOA: 2},
	})
	assert.Contains(t, lines, "- oa: 3")
	assert.Contains(t, lines, "- OA: 2")
	assert.Contains(t, lines, "computed_oa_apps=2 vs oa_messages=3")
}
