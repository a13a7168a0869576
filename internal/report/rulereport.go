package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/offertracker/internal/artifact"
	"github.com/ignite/offertracker/internal/classify"
)

// RunMeta is echoed into the report header so a saved report stays
// interpretable without the run's command line.
type RunMeta struct {
	Source      string
	DateRange   string
	MaxMessages string
}

var freeMailReportDomains = map[string]bool{
	"gmail.com":   true,
	"outlook.com": true,
	"yahoo.com":   true,
}

const ruleReportTemplate = `# Rule-Hit Confusion Report

## A) Run summary
- total_messages_processed: **{{ total }}**
- total_ignored: **{{ total_ignored }}**
- total_classified: **{{ total_classified }}**
- source: **{{ meta_source }}**
- date_range: **{{ meta_date_range }}**
- max_messages: **{{ meta_max_messages }}**

## B) Ignored breakdown (by ignore_reason)
| ignore_reason | count | pct | top_domains | top_subjects |
| --- | --- | --- | --- | --- |
{% for r in ignored_rows %}| {{ r.reason }} | {{ r.count }} | {{ r.pct }} | {{ r.top_domains }} | {{ r.top_subjects }} |
{% endfor %}
## C) Rule hits (by rule_id)
| rule_id | event_type | stage | count | pct | avg_conf | top_domains | top_subjects |
| --- | --- | --- | --- | --- | --- | --- | --- |
{% for r in rule_rows %}| {{ r.rule_id }} | {{ r.event_type }} | {{ r.stage }} | {{ r.count }} | {{ r.pct }} | {{ r.avg_conf }} | {{ r.top_domains }} | {{ r.top_subjects }} |
{% endfor %}
## D) Event type totals (by event_type)
| event_type | stage | count | avg_conf | median_conf | top_domains |
| --- | --- | --- | --- | --- | --- |
{% for r in event_rows %}| {{ r.event_type }} | {{ r.stage }} | {{ r.count }} | {{ r.avg_conf }} | {{ r.median_conf }} | {{ r.top_domains }} |
{% endfor %}
## E) Suspicious patterns
- interview_invite on free-mail domains: **{{ freemail_interview_count }}**
  - top subjects: {{ freemail_interview_subjects }}
- classified events on survey domains: **{{ survey_event_count }}**
  - top subjects: {{ survey_event_subjects }}
- application_received via weak phrase ('update on your application'): **{{ weak_applied_count }}**
  - top subjects: {{ weak_applied_subjects }}

## F) Sample lines per rule (top 10 rules)
{% for rule in samples %}### {{ rule.rule_id }}
date | from_domain | confidence | subject
--- | --- | --- | ---
{% for line in rule.lines %}{{ line.date }} | {{ line.from_domain }} | {{ line.confidence }} | {{ line.subject }}
{% endfor %}
{% endfor %}`

var ruleReportEngine = liquid.NewEngine()

func pct(count, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(count)/float64(total)*100)
}

func avgConfidence(group []MessageDiagnostic) float64 {
	if len(group) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range group {
		sum += d.Confidence
	}
	return sum / float64(len(group))
}

func medianConfidence(group []MessageDiagnostic) float64 {
	if len(group) == 0 {
		return 0
	}
	confs := make([]float64, 0, len(group))
	for _, d := range group {
		confs = append(confs, d.Confidence)
	}
	sort.Float64s(confs)
	mid := len(confs) / 2
	if len(confs)%2 == 1 {
		return confs[mid]
	}
	return (confs[mid-1] + confs[mid]) / 2
}

func domainsOf(group []MessageDiagnostic) []string {
	out := make([]string, 0, len(group))
	for _, d := range group {
		out = append(out, d.FromDomain)
	}
	return out
}

func subjectsOf(group []MessageDiagnostic) []string {
	out := make([]string, 0, len(group))
	for _, d := range group {
		out = append(out, d.Subject)
	}
	return out
}

func groupSortedByCount(groups map[string][]MessageDiagnostic) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if len(groups[keys[i]]) != len(groups[keys[j]]) {
			return len(groups[keys[i]]) > len(groups[keys[j]])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// BuildRuleHitReport renders the confusion report over every decision the
// rule path made, including the ignore rows the funnel never sees.
func BuildRuleHitReport(decisions []MessageDiagnostic, topk int, meta RunMeta) (string, error) {
	total := len(decisions)
	var ignored, classified []MessageDiagnostic
	for _, d := range decisions {
		if d.Ignored {
			ignored = append(ignored, d)
		} else {
			classified = append(classified, d)
		}
	}

	byIgnore := map[string][]MessageDiagnostic{}
	for _, d := range ignored {
		reason := d.IgnoreReason
		if reason == "" {
			reason = "unknown"
		}
		byIgnore[reason] = append(byIgnore[reason], d)
	}
	ignoredRows := make([]map[string]any, 0, len(byIgnore))
	for _, reason := range groupSortedByCount(byIgnore) {
		group := byIgnore[reason]
		ignoredRows = append(ignoredRows, map[string]any{
			"reason":       reason,
			"count":        len(group),
			"pct":          pct(len(group), total),
			"top_domains":  topItems(domainsOf(group), 5, 80),
			"top_subjects": topItems(subjectsOf(group), 5, 80),
		})
	}

	byRule := map[string][]MessageDiagnostic{}
	for _, d := range classified {
		rule := d.RuleID
		if rule == "" {
			rule = "unknown"
		}
		byRule[rule] = append(byRule[rule], d)
	}
	ruleOrder := groupSortedByCount(byRule)
	ruleRows := make([]map[string]any, 0, len(byRule))
	for _, rule := range ruleOrder {
		group := byRule[rule]
		ruleRows = append(ruleRows, map[string]any{
			"rule_id":      rule,
			"event_type":   group[0].EventType,
			"stage":        group[0].Stage,
			"count":        len(group),
			"pct":          pct(len(group), total),
			"avg_conf":     fmt.Sprintf("%.2f", avgConfidence(group)),
			"top_domains":  topItems(domainsOf(group), 5, 80),
			"top_subjects": topItems(subjectsOf(group), 5, 80),
		})
	}

	byEvent := map[string][]MessageDiagnostic{}
	for _, d := range classified {
		byEvent[d.EventType+"|"+d.Stage] = append(byEvent[d.EventType+"|"+d.Stage], d)
	}
	eventRows := make([]map[string]any, 0, len(byEvent))
	for _, key := range groupSortedByCount(byEvent) {
		group := byEvent[key]
		eventRows = append(eventRows, map[string]any{
			"event_type":  group[0].EventType,
			"stage":       group[0].Stage,
			"count":       len(group),
			"avg_conf":    fmt.Sprintf("%.2f", avgConfidence(group)),
			"median_conf": fmt.Sprintf("%.2f", medianConfidence(group)),
			"top_domains": topItems(domainsOf(group), 5, 80),
		})
	}

	var freeMailInterviews, surveyEvents, weakApplied []MessageDiagnostic
	for _, d := range classified {
		if d.EventType == classify.EventInterviewInvite && freeMailReportDomains[d.FromDomain] {
			freeMailInterviews = append(freeMailInterviews, d)
		}
		if strings.Contains(d.FromDomain, "survey") {
			surveyEvents = append(surveyEvents, d)
		}
		if strings.HasPrefix(d.RuleID, "application_received:core_phrases") &&
			strings.Contains(strings.ToLower(d.Subject), "update on your application") {
			weakApplied = append(weakApplied, d)
		}
	}

	sampleRules := ruleOrder
	if len(sampleRules) > 10 {
		sampleRules = sampleRules[:10]
	}
	samples := make([]map[string]any, 0, len(sampleRules))
	for _, rule := range sampleRules {
		group := byRule[rule]
		if len(group) > 5 {
			group = group[:5]
		}
		lines := make([]map[string]any, 0, len(group))
		for _, d := range group {
			lines = append(lines, map[string]any{
				"date":        isoDate(d.Date),
				"from_domain": d.FromDomain,
				"confidence":  classify.FormatConfidence(d.Confidence),
				"subject":     truncate(d.Subject, 120),
			})
		}
		samples = append(samples, map[string]any{"rule_id": rule, "lines": lines})
	}

	if topk > 0 && len(ruleRows) > topk {
		ruleRows = ruleRows[:topk]
	}

	bindings := liquid.Bindings{
		"total":                       total,
		"total_ignored":               len(ignored),
		"total_classified":            len(classified),
		"meta_source":                 meta.Source,
		"meta_date_range":             meta.DateRange,
		"meta_max_messages":           meta.MaxMessages,
		"ignored_rows":                ignoredRows,
		"rule_rows":                   ruleRows,
		"event_rows":                  eventRows,
		"freemail_interview_count":    len(freeMailInterviews),
		"freemail_interview_subjects": topItems(subjectsOf(freeMailInterviews), 5, 80),
		"survey_event_count":          len(surveyEvents),
		"survey_event_subjects":       topItems(subjectsOf(surveyEvents), 5, 80),
		"weak_applied_count":          len(weakApplied),
		"weak_applied_subjects":       topItems(subjectsOf(weakApplied), 5, 80),
		"samples":                     samples,
	}

	out, err := ruleReportEngine.ParseAndRenderString(ruleReportTemplate, bindings)
	if err != nil {
		return "", fmt.Errorf("report: rendering rule report: %w", err)
	}
	return out, nil
}

// WriteRuleHitReport renders and persists the report, returning the
// resolved path.
func WriteRuleHitReport(path string, decisions []MessageDiagnostic, topk int, meta RunMeta) (string, error) {
	md, err := BuildRuleHitReport(decisions, topk, meta)
	if err != nil {
		return "", err
	}
	return artifact.WriteText(path, md)
}
