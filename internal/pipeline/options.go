package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ignite/offertracker/internal/cache"
	"github.com/ignite/offertracker/internal/llm"
	"github.com/ignite/offertracker/internal/mail"
)

// Options configures one funnel-reconstruction run. Zero values pick up the
// pinned defaults via withDefaults; tests inject MailSource, Client and
// Cache directly.
type Options struct {
	Source string // "gmail", "outlook", "sample", "csv"
	Email  string

	StartDate string // inclusive, "2006-01-02"
	EndDate   string // inclusive

	OutDir      string
	Title       string
	Watermark   string
	MaxMessages int

	CredentialsPath      string
	TokenDir             string
	CSVPath              string
	GmailQueryMode       string // "strict" or "broad"
	AllowInteractiveAuth bool
	MailTimeout          time.Duration // per provider request, not per scan

	OutlookClientID     string
	OutlookClientSecret string
	OutlookTenantID     string

	DryRun      bool
	DebugSample bool

	Audit     bool
	AuditPath string

	Report     bool
	ReportPath string
	ReportTopK int

	KeyDebug    bool
	KeyDebugDir string

	DomainDebug     bool
	DomainDebugPath string

	Reconcile     bool
	ReconcilePath string

	FirstScanReport     bool
	FirstScanReportPath string

	AIClassify     bool
	AIModel        string
	AIBaseURL      string
	AIMaxBodyChars int
	AIConcurrency  int
	AITimeout      time.Duration

	// Injection points. When nil, Run resolves them from the options.
	MailSource mail.Source
	Client     llm.Client
	Cache      cache.Store
	Uploader   Uploader
}

func (o Options) withDefaults() Options {
	if o.Source == "" {
		o.Source = "sample"
	}
	if o.OutDir == "" {
		o.OutDir = "output"
	}
	if o.Title == "" {
		o.Title = "Job Search Summary"
	}
	if o.MaxMessages == 0 {
		o.MaxMessages = 2000
	}
	if o.CredentialsPath == "" {
		o.CredentialsPath = "credentials.json"
	}
	if o.TokenDir == "" {
		o.TokenDir = ".tokens"
	}
	if o.GmailQueryMode == "" {
		o.GmailQueryMode = "strict"
	}
	if o.MailTimeout == 0 {
		o.MailTimeout = 20 * time.Second
	}
	if o.AuditPath == "" {
		o.AuditPath = filepath.Join(o.OutDir, "audit_table.csv")
	}
	if o.ReportPath == "" {
		o.ReportPath = filepath.Join(o.OutDir, "rule_report.md")
	}
	if o.ReportTopK == 0 {
		o.ReportTopK = 20
	}
	if o.KeyDebugDir == "" {
		o.KeyDebugDir = filepath.Join(o.OutDir, "debug")
	}
	if o.DomainDebugPath == "" {
		o.DomainDebugPath = filepath.Join(o.OutDir, "debug", "domain_report.csv")
	}
	if o.ReconcilePath == "" {
		o.ReconcilePath = filepath.Join(o.OutDir, "debug", "reconcile_oa.csv")
	}
	if o.FirstScanReportPath == "" {
		o.FirstScanReportPath = filepath.Join(o.OutDir, "debug", "first_scan_report.csv")
	}
	if o.AIModel == "" {
		o.AIModel = "gpt-4.1-mini"
	}
	if o.AIBaseURL == "" {
		o.AIBaseURL = "https://api.openai.com/v1"
	}
	if o.AIMaxBodyChars == 0 {
		o.AIMaxBodyChars = 7000
	}
	if o.AIConcurrency == 0 {
		o.AIConcurrency = 8
	}
	if o.AITimeout == 0 {
		o.AITimeout = 60 * time.Second
	}
	return o
}

var knownSources = map[string]bool{"gmail": true, "outlook": true, "sample": true, "csv": true}

// Validate reports the first configuration problem without starting a run.
// The API uses it to reject bad submissions synchronously.
func Validate(opts Options) error {
	_, _, err := opts.withDefaults().validate()
	return err
}

// validate checks the invariants that have to hold before any mailbox is
// touched. Date bounds are returned parsed so Run never re-parses.
func (o Options) validate() (start, end time.Time, err error) {
	if !knownSources[o.Source] {
		return start, end, &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", o.Source)}
	}
	if o.StartDate == "" || o.EndDate == "" {
		return start, end, &ValidationError{Field: "start/end", Reason: "start and end dates are required (YYYY-MM-DD)"}
	}
	start, err = time.Parse("2006-01-02", o.StartDate)
	if err != nil {
		return start, end, &ValidationError{Field: "start", Reason: fmt.Sprintf("invalid date %q", o.StartDate)}
	}
	end, err = time.Parse("2006-01-02", o.EndDate)
	if err != nil {
		return start, end, &ValidationError{Field: "end", Reason: fmt.Sprintf("invalid date %q", o.EndDate)}
	}
	if end.Before(start) {
		return start, end, &ValidationError{Field: "start/end", Reason: "start date must not be after end date"}
	}
	if o.MaxMessages <= 0 || o.MaxMessages > 5000 {
		return start, end, &ValidationError{Field: "max_messages", Reason: "must be between 1 and 5000"}
	}
	if o.Source == "csv" && o.CSVPath == "" {
		return start, end, &ValidationError{Field: "csv_path", Reason: "required for the csv source"}
	}
	if o.Source == "gmail" && o.MailSource == nil {
		if _, statErr := os.Stat(o.CredentialsPath); statErr != nil {
			return start, end, &ValidationError{Field: "credentials", Reason: fmt.Sprintf("credentials file %q not readable", o.CredentialsPath)}
		}
	}
	return start, end, nil
}
