package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignite/offertracker/internal/artifact"
	"github.com/ignite/offertracker/internal/classify"
	"github.com/ignite/offertracker/internal/funnel"
)

// Reconciliation uses a finer stage ladder than the funnel so terminal
// outcomes sort above in-flight ones.
var reconcileStageRank = map[string]int{
	classify.StageApplied:   10,
	classify.StageOA:        20,
	classify.StageInterview: 30,
	classify.StageOffer:     40,
	classify.StageRejected:  90,
	classify.StageWithdrawn: 95,
}

var reconcileEventTypes = []string{
	classify.EventOA,
	classify.EventInterviewInvite,
	classify.EventRejection,
	classify.EventOffer,
	classify.EventApplicationReceived,
	classify.EventRoundUpdate,
	classify.EventWithdrawn,
	classify.EventInterviewReminder,
}

// ReconcileResult carries the written paths plus the counters the console
// summary prints.
type ReconcileResult struct {
	ReconcilePath       string
	FalsePositivesPath  string
	ComputedOAApps      int
	OAMessages          int
	MsgCountByEventType map[string]int
	AppCountByMaxStage  map[string]int
}

func maxStageOf(events []classify.Event) string {
	stage := classify.StageApplied
	for _, e := range events {
		if reconcileStageRank[e.Stage] > reconcileStageRank[stage] {
			stage = e.Stage
		}
	}
	return stage
}

func pickReconcileEvidence(events []classify.Event) []classify.Event {
	ranked := append([]classify.Event(nil), events...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if reconcileStageRank[a.Stage] != reconcileStageRank[b.Stage] {
			return reconcileStageRank[a.Stage] > reconcileStageRank[b.Stage]
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.OccurredAt.After(b.OccurredAt)
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	return ranked
}

var reconcileHeader = buildReconcileHeader()

func buildReconcileHeader() []string {
	h := []string{
		"application_key", "company_domain", "role_title", "max_stage_reached",
		"counted_oa", "oa_event_count", "why_counted_oa",
	}
	for i := 1; i <= 3; i++ {
		for _, field := range []string{"event_type", "stage", "confidence", "date", "domain", "subject"} {
			h = append(h, fmt.Sprintf("evidence_%s_%d", field, i))
		}
	}
	return h
}

func reconcileRecord(key string, audit funnel.AuditRow, events []classify.Event, oaEventCount int) []string {
	reasons := []string{}
	if oaEventCount > 0 {
		reasons = append(reasons, "has_oa_event")
	}
	maxStage := maxStageOf(events)
	if reconcileStageRank[maxStage] >= reconcileStageRank[classify.StageOA] {
		reasons = append(reasons, "max_stage>=OA")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "legacy_flag")
	}

	rec := []string{
		key, audit.CompanyDomain, audit.RoleTitle, maxStage,
		"1", fmt.Sprintf("%d", oaEventCount), strings.Join(reasons, "|"),
	}
	evidence := pickReconcileEvidence(events)
	for i := 0; i < 3; i++ {
		if i < len(evidence) {
			ev := evidence[i]
			rec = append(rec,
				ev.Type, ev.Stage, classify.FormatConfidence(ev.Confidence),
				isoDate(ev.OccurredAt), ev.Evidence.FromDomain, truncate(ev.Evidence.Subject, 160))
		} else {
			rec = append(rec, "", "", "", "", "", "")
		}
	}
	return rec
}

// WriteReconcileOutputs cross-checks the application-level OA flags
// against raw OA messages and writes both the full reconciliation table
// and the false-positive subset (flagged without any OA message).
func WriteReconcileOutputs(path string, events []classify.Event, auditRows []funnel.AuditRow) (ReconcileResult, error) {
	byApp := map[string][]classify.Event{}
	msgCounts := map[string]int{}
	for _, e := range events {
		byApp[e.ApplicationKey] = append(byApp[e.ApplicationKey], e)
		msgCounts[e.Type]++
	}

	appStageCounts := map[string]int{}
	for _, appEvents := range byApp {
		appStageCounts[maxStageOf(appEvents)]++
	}

	sortedAudit := append([]funnel.AuditRow(nil), auditRows...)
	sort.SliceStable(sortedAudit, func(i, j int) bool {
		a, b := sortedAudit[i], sortedAudit[j]
		if a.CompanyDomain != b.CompanyDomain {
			return a.CompanyDomain < b.CompanyDomain
		}
		if a.RoleTitle != b.RoleTitle {
			return a.RoleTitle < b.RoleTitle
		}
		return a.ApplicationKey < b.ApplicationKey
	})

	var records, falseRecords [][]string
	for _, audit := range sortedAudit {
		if audit.CountedOA != 1 {
			continue
		}
		appEvents := byApp[audit.ApplicationKey]
		oaEventCount := 0
		for _, e := range appEvents {
			if e.Type == classify.EventOA {
				oaEventCount++
			}
		}
		rec := reconcileRecord(audit.ApplicationKey, audit, appEvents, oaEventCount)
		records = append(records, rec)
		if oaEventCount == 0 {
			falseRecords = append(falseRecords, rec)
		}
	}

	mainPath, err := artifact.WriteTable(path, reconcileHeader, records)
	if err != nil {
		return ReconcileResult{}, err
	}
	falsePath, err := artifact.WriteTable(filepath.Join(filepath.Dir(path), "oa_false_positives.csv"), reconcileHeader, falseRecords)
	if err != nil {
		return ReconcileResult{}, err
	}

	return ReconcileResult{
		ReconcilePath:       mainPath,
		FalsePositivesPath:  falsePath,
		ComputedOAApps:      len(records),
		OAMessages:          msgCounts[classify.EventOA],
		MsgCountByEventType: msgCounts,
		AppCountByMaxStage:  appStageCounts,
	}, nil
}

// ReconcileConsoleSummary prints event and stage counters plus the
// app-level vs message-level OA comparison.
func ReconcileConsoleSummary(result ReconcileResult) []string {
	lines := []string{"Reconciliation summary", "msg_count_by_event_type:"}
	for _, eventType := range reconcileEventTypes {
		lines = append(lines, fmt.Sprintf("- %s: %d", eventType, result.MsgCountByEventType[eventType]))
	}
	lines = append(lines, "app_count_by_max_stage:")
	for _, stage := range []string{
		classify.StageApplied, classify.StageOA, classify.StageInterview,
		classify.StageOffer, classify.StageRejected, classify.StageWithdrawn,
	} {
		lines = append(lines, fmt.Sprintf("- %s: %d", stage, result.AppCountByMaxStage[stage]))
	}
	lines = append(lines, fmt.Sprintf("computed_oa_apps=%d vs oa_messages=%d", result.ComputedOAApps, result.OAMessages))
	return lines
}
