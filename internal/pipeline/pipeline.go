// Package pipeline orchestrates one end-to-end funnel reconstruction run:
// fetch, first-scan filter, rule classification with the reminder downgrade,
// funnel aggregation, optional AI classification, artifact writes and the
// diagnostic reporters. The orchestration is single-threaded; only the LLM
// fan-out inside classify runs concurrent workers.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/offertracker/internal/artifact"
	"github.com/ignite/offertracker/internal/classify"
	"github.com/ignite/offertracker/internal/funnel"
	"github.com/ignite/offertracker/internal/llm"
	"github.com/ignite/offertracker/internal/mail"
	"github.com/ignite/offertracker/internal/mail/gmail"
	"github.com/ignite/offertracker/internal/mail/outlook"
	"github.com/ignite/offertracker/internal/pkg/logger"
	"github.com/ignite/offertracker/internal/render"
	"github.com/ignite/offertracker/internal/report"
	"github.com/ignite/offertracker/internal/scan"
)

// Uploader mirrors finished artifacts to remote storage after a run.
type Uploader interface {
	UploadArtifacts(ctx context.Context, runID string, artifacts map[string]string) map[string]string
}

// DebugSample is one randomly sampled per-message decision, printed when
// --debug-sample is set so operators can eyeball classification quality.
type DebugSample struct {
	MessageID    string
	Date         time.Time
	FromDomain   string
	Subject      string
	RuleID       string
	EventType    string
	Stage        string
	Ignored      bool
	IgnoreReason string
}

// RunResult is what one completed run hands back to the CLI or API.
type RunResult struct {
	RunID        string
	Metrics      funnel.Metrics
	Rates        funnel.Rates
	Summary      []string
	Artifacts    map[string]string
	Warnings     []string
	DebugSamples []DebugSample
}

const debugSampleSize = 10

// Run executes the full pipeline. Validation errors abort before any I/O;
// after that, render and reporter failures degrade to warnings while
// artifact write failures stay fatal.
func Run(ctx context.Context, opts Options) (*RunResult, error) {
	opts = opts.withDefaults()
	start, end, err := opts.validate()
	if err != nil {
		return nil, err
	}

	source, err := resolveSource(opts)
	if err != nil {
		return nil, err
	}

	logger.Info("starting mailbox scan",
		"source", opts.Source, "start", opts.StartDate, "end", opts.EndDate,
		"max_messages", opts.MaxMessages, "dry_run", opts.DryRun)

	// The timeout is per provider request, applied inside the adapters; the
	// fetch as a whole only stops on caller cancellation.
	messages, err := source.Fetch(ctx, mail.FetchOptions{
		Email:       opts.Email,
		Start:       start,
		End:         end,
		MaxMessages: opts.MaxMessages,
		IncludeBody: opts.AIClassify,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetching messages: %w", err)
	}
	sortMessages(messages)
	logger.Info("fetched messages", "count", len(messages))

	kept, scanRows := scan.Filter(messages)
	logger.Info("first scan complete", "fetched", len(messages), "kept", len(kept))

	events, diags := runRulePath(kept)
	metrics, rates, warnings, auditRows := funnel.ComputeFunnel(events)
	summaryRows := funnel.BuildApplicationSummaryRows(summaryMessageRows(kept), events)

	result := &RunResult{
		RunID:     newRunID(),
		Metrics:   metrics,
		Rates:     rates,
		Summary:   funnel.CompanyConsoleSummary(summaryRows),
		Artifacts: map[string]string{},
		Warnings:  warnings,
	}
	if opts.DebugSample {
		result.DebugSamples = sampleDiagnostics(diags)
	}

	if opts.DryRun {
		logger.Info("dry run complete, no artifacts written", "run_id", result.RunID)
		return result, nil
	}

	if opts.AIClassify {
		if err := runAIPath(ctx, opts, messages, result); err != nil {
			return nil, err
		}
	}
	if err := writeRuleArtifacts(opts, kept, events, auditRows, summaryRows, result); err != nil {
		return nil, err
	}
	if err := writeReporters(opts, scanRows, diags, events, auditRows, result); err != nil {
		return nil, err
	}

	// metrics.json carries the artifact map, so it goes last.
	metricsPath := filepath.Join(opts.OutDir, "metrics.json")
	result.Artifacts["json_path"] = metricsPath
	if _, err := artifact.WriteMetrics(metricsPath, artifact.MetricsPayload{
		RunID:     result.RunID,
		Metrics:   result.Metrics,
		Rates:     result.Rates,
		Artifacts: result.Artifacts,
		Warnings:  result.Warnings,
	}); err != nil {
		return nil, err
	}

	if opts.Uploader != nil {
		keys := opts.Uploader.UploadArtifacts(ctx, result.RunID, result.Artifacts)
		logger.Info("artifacts uploaded", "run_id", result.RunID, "count", len(keys))
	}

	logger.Info("run complete", "run_id", result.RunID,
		"applications", metrics.Applications, "offers", metrics.Offers,
		"artifacts", len(result.Artifacts))
	return result, nil
}

func resolveSource(opts Options) (mail.Source, error) {
	if opts.MailSource != nil {
		return opts.MailSource, nil
	}
	switch opts.Source {
	case "gmail":
		return gmail.Source{
			CredentialsPath:      opts.CredentialsPath,
			TokenDir:             opts.TokenDir,
			QueryMode:            opts.GmailQueryMode,
			AllowInteractiveAuth: opts.AllowInteractiveAuth,
			Timeout:              opts.MailTimeout,
		}, nil
	case "outlook":
		return outlook.Source{
			TokenDir:     opts.TokenDir,
			ClientID:     opts.OutlookClientID,
			ClientSecret: opts.OutlookClientSecret,
			TenantID:     opts.OutlookTenantID,
			Timeout:      opts.MailTimeout,
		}, nil
	case "sample":
		return mail.SampleSource{}, nil
	case "csv":
		return mail.CSVSource{Path: opts.CSVPath}, nil
	default:
		return nil, fmt.Errorf("pipeline: %q: %w", opts.Source, mail.ErrUnknownSource)
	}
}

func sortMessages(messages []mail.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].Date.Equal(messages[j].Date) {
			return messages[i].Date.Before(messages[j].Date)
		}
		return messages[i].ID < messages[j].ID
	})
}

// runRulePath classifies kept messages in date order. Reminders only count
// when the application already reached an interview; a downgraded reminder
// becomes an ignore row, a confirmed one is promoted to round_update. One
// diagnostic row is recorded per message.
func runRulePath(kept []mail.Message) ([]classify.Event, []report.MessageDiagnostic) {
	var events []classify.Event
	diags := make([]report.MessageDiagnostic, 0, len(kept))
	appHasInterview := map[string]bool{}

	for _, msg := range kept {
		decision := classify.ClassifyMessage(msg)
		info := classify.GetApplicationKeyInfo(msg)
		diag := diagnosticFor(msg, decision, info)

		if decision.Ignored {
			diags = append(diags, diag)
			continue
		}

		for _, ev := range decision.Events {
			if ev.Type == classify.EventInterviewReminder {
				if !appHasInterview[ev.ApplicationKey] {
					diag.Ignored = true
					diag.IgnoreReason = "reminder_without_prior_interview"
					diag.RuleID = "ignore:reminder_without_prior_interview"
					diag.EventType = ""
					diag.Stage = ""
					diag.Confidence = 0
					continue
				}
				ev.Type = classify.EventRoundUpdate
				ev.Stage = classify.StageInterview
				diag.EventType = ev.Type
				diag.Stage = ev.Stage
			}
			if ev.Stage == classify.StageInterview {
				appHasInterview[ev.ApplicationKey] = true
			}
			events = append(events, ev)
		}
		diags = append(diags, diag)
	}
	return events, diags
}

func diagnosticFor(msg mail.Message, decision classify.Decision, info classify.ApplicationKeyInfo) report.MessageDiagnostic {
	diag := report.MessageDiagnostic{
		MessageID:           msg.ID,
		Date:                msg.Date,
		FromEmail:           msg.FromEmail,
		FromDomain:          msg.SenderDomain(),
		Subject:             msg.Subject,
		ThreadID:            msg.ThreadID,
		Ignored:             decision.Ignored,
		IgnoreReason:        decision.IgnoreReason,
		RuleID:              decision.RuleID,
		CompanyName:         info.CompanyName,
		CompanyDomain:       info.CompanyDomain,
		CompanyDomainSource: info.CompanyDomainSource,
		RoleTitle:           info.RoleTitle,
		RoleTitleConfidence: info.RoleTitleConfidence,
		ApplicationKey:      decision.ApplicationKey,
		KeySource:           info.KeySource,
	}
	if len(decision.Events) > 0 {
		diag.EventType = decision.Events[0].Type
		diag.Stage = decision.Events[0].Stage
		diag.Confidence = decision.Events[0].Confidence
	}
	return diag
}

func summaryMessageRows(kept []mail.Message) []funnel.SummaryMessageRow {
	rows := make([]funnel.SummaryMessageRow, 0, len(kept))
	for _, msg := range kept {
		info := classify.GetApplicationKeyInfo(msg)
		rows = append(rows, funnel.SummaryMessageRow{
			MessageID:           msg.ID,
			ThreadID:            msg.ThreadID,
			Date:                msg.Date,
			FromDomain:          msg.SenderDomain(),
			Subject:             msg.Subject,
			CompanyName:         info.CompanyName,
			CompanyDomain:       info.CompanyDomain,
			RoleTitle:           info.RoleTitle,
			RoleTitleConfidence: info.RoleTitleConfidence,
			ApplicationKey:      info.ApplicationKey,
		})
	}
	return rows
}

func newRunID() string {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return stamp + "-" + uuid.NewString()[:8]
}

func sampleDiagnostics(diags []report.MessageDiagnostic) []DebugSample {
	idx := rand.Perm(len(diags))
	if len(idx) > debugSampleSize {
		idx = idx[:debugSampleSize]
	}
	out := make([]DebugSample, 0, len(idx))
	for _, i := range idx {
		d := diags[i]
		out = append(out, DebugSample{
			MessageID:    d.MessageID,
			Date:         d.Date,
			FromDomain:   d.FromDomain,
			Subject:      d.Subject,
			RuleID:       d.RuleID,
			EventType:    d.EventType,
			Stage:        d.Stage,
			Ignored:      d.Ignored,
			IgnoreReason: d.IgnoreReason,
		})
	}
	return out
}

// runAIPath classifies the full normalized set, not just the kept messages;
// the LLM sees everything the first scan saw so its verdicts are comparable.
func runAIPath(ctx context.Context, opts Options, messages []mail.Message, result *RunResult) error {
	client := opts.Client
	if client == nil {
		client = llm.NewOpenAIClient(opts.AIBaseURL, os.Getenv("OPENAI_API_KEY"), opts.AIModel, opts.AITimeout)
	}

	relevantPath, err := artifact.WriteRelevantEmails(filepath.Join(opts.OutDir, "relevant_emails.csv"), messages)
	if err != nil {
		return err
	}
	result.Artifacts["relevant_emails_csv_path"] = relevantPath

	classifier := &classify.AIClassifier{
		Client:       client,
		Cache:        opts.Cache,
		MaxBodyChars: opts.AIMaxBodyChars,
		Concurrency:  opts.AIConcurrency,
	}
	rows := classifier.ClassifyMessages(ctx, messages)
	logger.Info("ai classification complete", "messages", len(rows))

	classificationPath, err := artifact.WriteAIMessageClassification(filepath.Join(opts.OutDir, "ai_message_classification.csv"), rows)
	if err != nil {
		return err
	}
	result.Artifacts["ai_message_classification_csv_path"] = classificationPath

	appRows := funnel.BuildApplicationRows(rows)
	tablePath, err := artifact.WriteAIApplicationTable(filepath.Join(opts.OutDir, "ai_application_table.csv"), appRows)
	if err != nil {
		return err
	}
	result.Artifacts["ai_application_table_csv_path"] = tablePath

	summary := funnel.BuildAISummary(rows)
	summaryPath, err := artifact.WriteAIResultSummary(filepath.Join(opts.OutDir, "ai_result_summary.json"), summary)
	if err != nil {
		return err
	}
	result.Artifacts["ai_result_summary_json_path"] = summaryPath
	result.Summary = append(result.Summary, funnel.AIConsoleSummary(summary)...)

	watermark := opts.Watermark
	if watermark == "" {
		watermark = render.DefaultWatermark
	}
	png, err := render.RenderAISankey(summary, opts.Title, watermark)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("sankey_render_failed: %v", err))
		logger.Warn("ai sankey render failed", "error", err.Error())
		return nil
	}
	pngPath, err := artifact.WritePNG(filepath.Join(opts.OutDir, "ai_sankey.png"), png)
	if err != nil {
		return err
	}
	result.Artifacts["ai_sankey_png_path"] = pngPath
	return nil
}

func writeRuleArtifacts(opts Options, kept []mail.Message, events []classify.Event, auditRows []funnel.AuditRow, summaryRows []funnel.SummaryRow, result *RunResult) error {
	summaryPath, err := artifact.WriteApplicationSummary(filepath.Join(opts.OutDir, "application_summary.csv"), summaryRows)
	if err != nil {
		return err
	}
	result.Artifacts["application_summary_csv_path"] = summaryPath

	png, err := render.RenderFunnelSankey(result.Metrics, opts.Title)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("sankey_render_failed: %v", err))
		logger.Warn("funnel sankey render failed", "error", err.Error())
	} else {
		pngPath, err := artifact.WritePNG(filepath.Join(opts.OutDir, "sankey.png"), png)
		if err != nil {
			return err
		}
		result.Artifacts["png_path"] = pngPath
	}

	if opts.Audit {
		auditPath, err := artifact.WriteAuditTable(opts.AuditPath, auditRows)
		if err != nil {
			return err
		}
		result.Artifacts["audit_csv_path"] = auditPath
	}

	records := make([]artifact.MetadataRecord, 0, len(kept))
	for _, msg := range kept {
		records = append(records, artifact.MetadataRecord{
			ID:                 msg.ID,
			ThreadID:           msg.ThreadID,
			Date:               msg.Date.Format(time.RFC3339),
			FromDomain:         msg.SenderDomain(),
			SubjectSnippetHash: classify.SubjectSnippetHash(msg.Subject, msg.Snippet),
		})
	}
	metadataPath, err := artifact.WriteMetadataCache(filepath.Join(opts.OutDir, "metadata_cache.json"), records)
	if err != nil {
		return err
	}
	result.Artifacts["metadata_cache_json_path"] = metadataPath
	return nil
}

func writeReporters(opts Options, scanRows []scan.ReportRow, diags []report.MessageDiagnostic, events []classify.Event, auditRows []funnel.AuditRow, result *RunResult) error {
	if opts.FirstScanReport {
		path, err := artifact.WriteFirstScanReport(opts.FirstScanReportPath, scanRows)
		if err != nil {
			return err
		}
		result.Artifacts["first_scan_report_csv_path"] = path
		result.Summary = append(result.Summary, scan.Summary(scanRows)...)
	}

	if opts.Report {
		meta := report.RunMeta{
			Source:      opts.Source,
			DateRange:   opts.StartDate + ".." + opts.EndDate,
			MaxMessages: fmt.Sprintf("%d", opts.MaxMessages),
		}
		path, err := report.WriteRuleHitReport(opts.ReportPath, diags, opts.ReportTopK, meta)
		if err != nil {
			return err
		}
		result.Artifacts["rule_report_path"] = path
	}

	if opts.KeyDebug {
		paths, err := report.WriteKeyDebugOutputs(opts.KeyDebugDir, diags)
		if err != nil {
			return err
		}
		result.Artifacts["applications_debug_csv_path"] = paths["applications_debug"]
		result.Artifacts["company_collisions_csv_path"] = paths["company_collisions"]
		result.Artifacts["role_extraction_debug_csv_path"] = paths["role_extraction_debug"]
		result.Summary = append(result.Summary, report.KeyDebugConsoleSummary(diags)...)
	}

	if opts.DomainDebug {
		path, err := report.WriteDomainReport(opts.DomainDebugPath, diags)
		if err != nil {
			return err
		}
		result.Artifacts["domain_debug_csv_path"] = path
		result.Summary = append(result.Summary, report.DomainDebugConsoleSummary(diags)...)
	}

	if opts.Reconcile {
		reconciled, err := report.WriteReconcileOutputs(opts.ReconcilePath, events, auditRows)
		if err != nil {
			return err
		}
		result.Artifacts["reconcile_csv_path"] = reconciled.ReconcilePath
		result.Artifacts["oa_false_positives_csv_path"] = reconciled.FalsePositivesPath
		result.Summary = append(result.Summary, report.ReconcileConsoleSummary(reconciled)...)
	}
	return nil
}
