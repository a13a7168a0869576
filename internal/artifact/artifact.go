// Package artifact writes the per-run output files: the CSV tables, the
// JSON summaries, and the PNG diagrams produced upstream. Column orders
// are fixed so downstream spreadsheets and diffs stay stable between runs.
package artifact

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/ignite/offertracker/internal/classify"
	"github.com/ignite/offertracker/internal/funnel"
	"github.com/ignite/offertracker/internal/mail"
	"github.com/ignite/offertracker/internal/scan"
)

// WriteError reports a failed artifact write along with the path so the
// operator knows which output is missing.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("artifact: writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", &WriteError{Path: abs, Err: err}
		}
	}
	return abs, nil
}

func writeCSV(path string, header []string, records [][]string) (string, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	if err := w.WriteAll(records); err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	return abs, nil
}

// WriteTable writes an arbitrary CSV with a fixed header; the diagnostic
// reporters build their own schemas on top of it.
func WriteTable(path string, header []string, records [][]string) (string, error) {
	return writeCSV(path, header, records)
}

// WriteText persists a rendered text document such as a markdown report.
func WriteText(path, content string) (string, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	return abs, nil
}

func writeJSON(path string, payload any) (string, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	if err := os.WriteFile(abs, append(data, '\n'), 0o644); err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	return abs, nil
}

func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// WriteRelevantEmails dumps the full fetched message set the AI path ran
// over, bodies included.
func WriteRelevantEmails(path string, messages []mail.Message) (string, error) {
	header := []string{"message_id", "thread_id", "date", "from_email_raw", "from_email_address", "subject", "body"}
	records := make([][]string, 0, len(messages))
	for _, m := range messages {
		subject := m.Subject
		if len(subject) > 200 {
			subject = subject[:200]
		}
		records = append(records, []string{
			m.ID,
			m.ThreadID,
			isoDate(m.Date),
			m.FromEmail,
			m.SenderAddress(),
			subject,
			m.BodyOrSnippet(),
		})
	}
	return writeCSV(path, header, records)
}

// WriteAIMessageClassification persists one verdict row per message.
func WriteAIMessageClassification(path string, rows []classify.AIMessageRow) (string, error) {
	header := []string{
		"message_id", "thread_id", "date", "from_email_raw", "from_email_address",
		"subject", "is_job_related", "company", "position", "event_type", "status", "confidence",
	}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.MessageID,
			r.ThreadID,
			isoDate(r.Date),
			r.FromEmailRaw,
			r.FromEmailAddress,
			r.Subject,
			strconv.FormatBool(r.IsJobRelated),
			r.Company,
			r.Position,
			r.EventType,
			r.Status,
			classify.FormatConfidence(r.Confidence),
		})
	}
	return writeCSV(path, header, records)
}

// WriteAIApplicationTable persists the AI path's per-application table.
// Application dates are day precision; the funnel never needs finer.
func WriteAIApplicationTable(path string, rows []funnel.ApplicationRow) (string, error) {
	header := []string{
		"application_id", "company", "position", "application_date",
		"current_status", "last_event_date", "email_count", "evidence_subject",
	}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		appDate := ""
		if !r.ApplicationDate.IsZero() {
			appDate = r.ApplicationDate.Format("2006-01-02")
		}
		records = append(records, []string{
			r.ApplicationID,
			r.Company,
			r.Position,
			appDate,
			r.CurrentStatus,
			isoDate(r.LastEventDate),
			strconv.Itoa(r.EmailCount),
			r.EvidenceSubject,
		})
	}
	return writeCSV(path, header, records)
}

// WriteAIResultSummary persists the seven-counter funnel digest.
func WriteAIResultSummary(path string, summary funnel.AISummary) (string, error) {
	return writeJSON(path, summary)
}

// WriteApplicationSummary persists the rule path's application table.
func WriteApplicationSummary(path string, rows []funnel.SummaryRow) (string, error) {
	header := []string{
		"application_id", "thread_id", "company_name", "company_domain", "role_title",
		"current_status", "last_event_date", "evidence_from_domain", "evidence_subject",
		"evidence_event_type", "evidence_stage", "evidence_confidence",
		"message_count", "event_counts_json",
	}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.ApplicationID,
			r.ThreadID,
			r.CompanyName,
			r.CompanyDomain,
			r.RoleTitle,
			r.CurrentStatus,
			isoDate(r.LastEventDate),
			r.EvidenceFromDomain,
			r.EvidenceSubject,
			r.EvidenceEventType,
			r.EvidenceStage,
			r.EvidenceConfidence,
			strconv.Itoa(r.MessageCount),
			r.EventCountsJSON,
		})
	}
	return writeCSV(path, header, records)
}

// MetricsPayload is the metrics.json document for one run.
type MetricsPayload struct {
	RunID     string            `json:"run_id"`
	Metrics   funnel.Metrics    `json:"metrics"`
	Rates     funnel.Rates      `json:"rates"`
	Artifacts map[string]string `json:"artifacts"`
	Warnings  []string          `json:"warnings"`
}

// WriteMetrics persists the run's counters, rates, artifact paths, and
// accumulated warnings.
func WriteMetrics(path string, payload MetricsPayload) (string, error) {
	if payload.Artifacts == nil {
		payload.Artifacts = map[string]string{}
	}
	if payload.Warnings == nil {
		payload.Warnings = []string{}
	}
	return writeJSON(path, payload)
}

var auditHeader = buildAuditHeader()

func buildAuditHeader() []string {
	h := []string{
		"application_key", "company_domain", "company_name", "role_title",
		"first_seen", "last_seen",
		"counted_applied", "counted_replied", "counted_no_replies", "counted_oa",
		"counted_interviews", "counted_offers", "counted_rejected", "counted_withdrawn",
		"max_stage_reached",
		"reply_reason", "oa_reason", "interview_reason", "offer_reason",
		"rejection_reason", "withdrawn_reason",
	}
	for i := 1; i <= 3; i++ {
		for _, field := range []string{"date", "domain", "subject", "event_type", "stage", "confidence", "message_id", "thread_id", "snippet_hash"} {
			h = append(h, fmt.Sprintf("evidence_%d_%s", i, field))
		}
	}
	return h
}

// WriteAuditTable persists one row per application explaining every
// counted funnel flag, with up to three evidence events.
func WriteAuditTable(path string, rows []funnel.AuditRow) (string, error) {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := []string{
			r.ApplicationKey,
			r.CompanyDomain,
			r.CompanyName,
			r.RoleTitle,
			isoDate(r.FirstSeen),
			isoDate(r.LastSeen),
			strconv.Itoa(r.CountedApplied),
			strconv.Itoa(r.CountedReplied),
			strconv.Itoa(r.CountedNoReplies),
			strconv.Itoa(r.CountedOA),
			strconv.Itoa(r.CountedInterview),
			strconv.Itoa(r.CountedOffers),
			strconv.Itoa(r.CountedRejected),
			strconv.Itoa(r.CountedWithdrawn),
			r.MaxStageReached,
			r.ReplyReason,
			r.OAReason,
			r.InterviewReason,
			r.OfferReason,
			r.RejectionReason,
			r.WithdrawnReason,
		}
		for i := 0; i < 3; i++ {
			if i < len(r.Evidence) {
				ev := r.Evidence[i]
				rec = append(rec,
					isoDate(ev.Date), ev.Domain, ev.Subject, ev.EventType, ev.Stage,
					classify.FormatConfidence(ev.Confidence), ev.MessageID, ev.ThreadID, ev.SnippetHash)
			} else {
				rec = append(rec, "", "", "", "", "", "", "", "", "")
			}
		}
		records = append(records, rec)
	}
	return writeCSV(path, auditHeader, records)
}

// MetadataRecord is one kept message's footprint in metadata_cache.json.
type MetadataRecord struct {
	ID                 string `json:"id"`
	ThreadID           string `json:"thread_id"`
	Date               string `json:"date"`
	FromDomain         string `json:"from_domain"`
	SubjectSnippetHash string `json:"subject_snippet_hash"`
}

// WriteMetadataCache persists the minimal per-message footprint so later
// runs can diff against what this run saw.
func WriteMetadataCache(path string, records []MetadataRecord) (string, error) {
	if records == nil {
		records = []MetadataRecord{}
	}
	return writeJSON(path, map[string][]MetadataRecord{"records": records})
}

// WriteFirstScanReport persists one line per fetched message with the
// keep/drop verdict, sorted by (date, message id).
func WriteFirstScanReport(path string, rows []scan.ReportRow) (string, error) {
	header := []string{"message_id", "date", "from_domain", "subject", "kept_or_dropped", "drop_reason"}
	sorted := append([]scan.ReportRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].MessageID < sorted[j].MessageID
	})
	records := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		kept := "dropped"
		if r.Kept {
			kept = "kept"
		}
		records = append(records, []string{
			r.MessageID,
			isoDate(r.Date),
			r.FromDomain,
			r.Subject,
			kept,
			r.DropReason,
		})
	}
	return writeCSV(path, header, records)
}

// WritePNG persists an already-rendered diagram.
func WritePNG(path string, data []byte) (string, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	return abs, nil
}
