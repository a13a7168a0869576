package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignite/offertracker/internal/artifact"
	"github.com/ignite/offertracker/internal/classify"
)

var keyDebugStageRank = map[string]int{
	classify.StageApplied:   1,
	classify.StageOA:        2,
	classify.StageInterview: 3,
	classify.StageRejected:  3,
	classify.StageOffer:     4,
	classify.StageWithdrawn: 0,
}

var keyDebugResponseEvents = map[string]bool{
	classify.EventInterviewInvite: true,
	classify.EventOA:              true,
	classify.EventRejection:       true,
	classify.EventOffer:           true,
	classify.EventRoundUpdate:     true,
}

// ApplicationDebugRow aggregates every message that landed on one
// application key, for eyeballing key construction quality.
type ApplicationDebugRow struct {
	ApplicationKey  string
	KeySource       string
	CompanyDomain   string
	CompanyName     string
	RoleTitle       string
	RoleTitleSource string
	FirstSeen       string
	LastSeen        string
	MessageCount    int
	ClassifiedCount int
	IgnoredCount    int
	MaxStageReached string
	HasResponse     bool
	HasOA           bool
	HasInterview    bool
	HasOffer        bool
	HasRejection    bool
	HasWithdrawn    bool
	TopSubjects     [3]string
}

// CompanyCollisionRow flags domains whose keys look under- or over-merged.
type CompanyCollisionRow struct {
	CompanyDomain      string
	DistinctKeys       int
	TotalMessages      int
	KeysMissingRole    int
	PctKeysMissingRole float64
	MaxMessagesInKey   int
	ExampleKey         string
	ExampleRoleTitle   string
	Notes              string
}

// BuildApplicationDebugRows groups the diagnostic stream by application
// key and summarizes each key's lifecycle.
func BuildApplicationDebugRows(diags []MessageDiagnostic) []ApplicationDebugRow {
	grouped := map[string][]MessageDiagnostic{}
	for _, d := range diags {
		grouped[d.ApplicationKey] = append(grouped[d.ApplicationKey], d)
	}

	out := make([]ApplicationDebugRow, 0, len(grouped))
	for key, group := range grouped {
		byDate := append([]MessageDiagnostic(nil), group...)
		sort.SliceStable(byDate, func(i, j int) bool { return byDate[i].Date.Before(byDate[j].Date) })

		row := ApplicationDebugRow{
			ApplicationKey:  key,
			FirstSeen:       isoDate(byDate[0].Date),
			LastSeen:        isoDate(byDate[len(byDate)-1].Date),
			MessageCount:    len(group),
			MaxStageReached: classify.StageApplied,
		}

		var sources, domains, names, roles []string
		for _, d := range group {
			sources = append(sources, d.KeySource)
			domains = append(domains, d.CompanyDomain)
			names = append(names, d.CompanyName)
			roles = append(roles, d.RoleTitle)

			if d.Ignored {
				row.IgnoredCount++
			} else if d.EventType != "" {
				row.ClassifiedCount++
			}
			if keyDebugStageRank[d.Stage] > keyDebugStageRank[row.MaxStageReached] {
				row.MaxStageReached = d.Stage
			}
			if keyDebugResponseEvents[d.EventType] {
				row.HasResponse = true
			}
			switch d.Stage {
			case classify.StageOA:
				row.HasOA = true
			case classify.StageInterview:
				row.HasInterview = true
			case classify.StageOffer:
				row.HasOffer = true
			}
			if d.Stage == classify.StageRejected || d.EventType == classify.EventRejection {
				row.HasRejection = true
			}
			if d.Stage == classify.StageWithdrawn || d.EventType == classify.EventWithdrawn {
				row.HasWithdrawn = true
			}
		}
		row.KeySource = mostCommonNonEmpty(sources)
		row.CompanyDomain = mostCommonNonEmpty(domains)
		row.CompanyName = mostCommonNonEmpty(names)
		row.RoleTitle = mostCommonNonEmpty(roles)
		row.RoleTitleSource = "unknown"
		if row.RoleTitle != "" {
			row.RoleTitleSource = "parsed"
		}

		for i := 0; i < 3 && i < len(byDate); i++ {
			row.TopSubjects[i] = truncate(byDate[len(byDate)-1-i].Subject, 90)
		}

		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CompanyDomain != out[j].CompanyDomain {
			return out[i].CompanyDomain < out[j].CompanyDomain
		}
		if out[i].RoleTitle != out[j].RoleTitle {
			return out[i].RoleTitle < out[j].RoleTitle
		}
		return out[i].FirstSeen < out[j].FirstSeen
	})
	return out
}

// BuildCompanyCollisionRows rolls application keys up per company domain
// and marks ROLE_EXTRACTION_WEAK / MERGE_SUSPECT notes.
func BuildCompanyCollisionRows(appRows []ApplicationDebugRow) []CompanyCollisionRow {
	grouped := map[string][]ApplicationDebugRow{}
	for _, r := range appRows {
		grouped[r.CompanyDomain] = append(grouped[r.CompanyDomain], r)
	}

	out := make([]CompanyCollisionRow, 0, len(grouped))
	for domain, rows := range grouped {
		row := CompanyCollisionRow{CompanyDomain: domain, DistinctKeys: len(rows)}
		var maxRow ApplicationDebugRow
		for _, r := range rows {
			row.TotalMessages += r.MessageCount
			if strings.TrimSpace(r.RoleTitle) == "" {
				row.KeysMissingRole++
			}
			if r.MessageCount > maxRow.MessageCount {
				maxRow = r
			}
		}
		if row.DistinctKeys > 0 {
			row.PctKeysMissingRole = float64(row.KeysMissingRole) / float64(row.DistinctKeys)
		}
		row.MaxMessagesInKey = maxRow.MessageCount
		row.ExampleKey = maxRow.ApplicationKey
		row.ExampleRoleTitle = maxRow.RoleTitle

		var notes []string
		if row.PctKeysMissingRole > 0.5 {
			notes = append(notes, "ROLE_EXTRACTION_WEAK")
		}
		if row.MaxMessagesInKey > 10 && strings.TrimSpace(maxRow.RoleTitle) == "" {
			notes = append(notes, "MERGE_SUSPECT")
		}
		row.Notes = strings.Join(notes, "|")

		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalMessages != out[j].TotalMessages {
			return out[i].TotalMessages > out[j].TotalMessages
		}
		return out[i].CompanyDomain < out[j].CompanyDomain
	})
	return out
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func diagConfidence(d MessageDiagnostic) string {
	if d.Ignored || d.EventType == "" {
		return ""
	}
	return classify.FormatConfidence(d.Confidence)
}

// WriteKeyDebugOutputs writes the three key-quality tables under dir and
// returns their paths keyed by artifact name.
func WriteKeyDebugOutputs(dir string, diags []MessageDiagnostic) (map[string]string, error) {
	appRows := BuildApplicationDebugRows(diags)
	companyRows := BuildCompanyCollisionRows(appRows)

	appHeader := []string{
		"application_key", "key_source", "company_domain", "company_name", "role_title",
		"role_title_source", "first_seen", "last_seen", "message_count",
		"classified_message_count", "ignored_message_count", "max_stage_reached",
		"has_response", "has_oa", "has_interview", "has_offer", "has_rejection", "has_withdrawn",
		"top_subject_1", "top_subject_2", "top_subject_3",
	}
	appRecords := make([][]string, 0, len(appRows))
	for _, r := range appRows {
		appRecords = append(appRecords, []string{
			r.ApplicationKey, r.KeySource, r.CompanyDomain, r.CompanyName, r.RoleTitle,
			r.RoleTitleSource, r.FirstSeen, r.LastSeen, fmt.Sprintf("%d", r.MessageCount),
			fmt.Sprintf("%d", r.ClassifiedCount), fmt.Sprintf("%d", r.IgnoredCount), r.MaxStageReached,
			boolFlag(r.HasResponse), boolFlag(r.HasOA), boolFlag(r.HasInterview),
			boolFlag(r.HasOffer), boolFlag(r.HasRejection), boolFlag(r.HasWithdrawn),
			r.TopSubjects[0], r.TopSubjects[1], r.TopSubjects[2],
		})
	}
	appPath, err := artifact.WriteTable(filepath.Join(dir, "applications_debug.csv"), appHeader, appRecords)
	if err != nil {
		return nil, err
	}

	companyHeader := []string{
		"company_domain", "distinct_application_keys", "total_messages",
		"keys_missing_role_title", "pct_keys_missing_role_title",
		"max_messages_in_single_key", "example_application_key_with_max_messages",
		"example_role_title_for_that_key", "notes",
	}
	companyRecords := make([][]string, 0, len(companyRows))
	for _, r := range companyRows {
		companyRecords = append(companyRecords, []string{
			r.CompanyDomain, fmt.Sprintf("%d", r.DistinctKeys), fmt.Sprintf("%d", r.TotalMessages),
			fmt.Sprintf("%d", r.KeysMissingRole), fmt.Sprintf("%.2f", r.PctKeysMissingRole),
			fmt.Sprintf("%d", r.MaxMessagesInKey), r.ExampleKey, r.ExampleRoleTitle, r.Notes,
		})
	}
	companyPath, err := artifact.WriteTable(filepath.Join(dir, "company_collisions.csv"), companyHeader, companyRecords)
	if err != nil {
		return nil, err
	}

	roleHeader := []string{
		"message_id", "date", "from_domain", "subject", "thread_id",
		"extracted_company_domain", "extracted_company_name", "extracted_role_title",
		"role_title_confidence", "built_application_key", "key_source", "matched_rule_id",
		"event_type", "stage", "confidence", "ignored", "ignore_reason",
	}
	classified := make([]MessageDiagnostic, 0, len(diags))
	for _, d := range diags {
		if d.EventType != "" {
			classified = append(classified, d)
		}
	}
	sort.SliceStable(classified, func(i, j int) bool {
		if !classified[i].Date.Equal(classified[j].Date) {
			return classified[i].Date.Before(classified[j].Date)
		}
		return classified[i].MessageID < classified[j].MessageID
	})
	roleRecords := make([][]string, 0, len(classified))
	for _, d := range classified {
		roleRecords = append(roleRecords, []string{
			d.MessageID, isoDate(d.Date), d.FromDomain, truncate(d.Subject, 160), d.ThreadID,
			d.CompanyDomain, d.CompanyName, d.RoleTitle,
			classify.FormatConfidence(d.RoleTitleConfidence), d.ApplicationKey, d.KeySource, d.RuleID,
			d.EventType, d.Stage, diagConfidence(d),
			fmt.Sprintf("%t", d.Ignored), d.IgnoreReason,
		})
	}
	rolePath, err := artifact.WriteTable(filepath.Join(dir, "role_extraction_debug.csv"), roleHeader, roleRecords)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"applications_debug":    appPath,
		"company_collisions":    companyPath,
		"role_extraction_debug": rolePath,
	}, nil
}

// KeyDebugConsoleSummary prints the headline key-quality numbers.
func KeyDebugConsoleSummary(diags []MessageDiagnostic) []string {
	appRows := BuildApplicationDebugRows(diags)
	companyRows := BuildCompanyCollisionRows(appRows)

	lines := []string{"Key debug summary", "top 10 companies by total_messages:"}
	for i, r := range companyRows {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %d", r.CompanyDomain, r.TotalMessages))
	}

	lines = append(lines, "top 10 application_keys by message_count:")
	byCount := append([]ApplicationDebugRow(nil), appRows...)
	sort.SliceStable(byCount, func(i, j int) bool {
		if byCount[i].MessageCount != byCount[j].MessageCount {
			return byCount[i].MessageCount > byCount[j].MessageCount
		}
		return byCount[i].ApplicationKey < byCount[j].ApplicationKey
	})
	for i, r := range byCount {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %d", r.ApplicationKey, r.MessageCount))
	}

	missingRole := 0
	threadFallback := 0
	for _, r := range appRows {
		if strings.TrimSpace(r.RoleTitle) == "" {
			missingRole++
		}
		if r.KeySource == "thread_fallback" {
			threadFallback++
		}
	}
	lines = append(lines, fmt.Sprintf("applications with missing role_title: %d/%d", missingRole, len(appRows)))

	pctFallback := 0.0
	if len(appRows) > 0 {
		pctFallback = float64(threadFallback) / float64(len(appRows)) * 100
	}
	lines = append(lines, fmt.Sprintf("percent of keys built via thread_fallback: %.1f%%", pctFallback))
	return lines
}
