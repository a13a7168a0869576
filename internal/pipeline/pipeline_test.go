package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/offertracker/internal/classify"
	"github.com/ignite/offertracker/internal/llm"
	"github.com/ignite/offertracker/internal/mail"
)

type staticSource struct {
	messages []mail.Message
	err      error
	lastOpts mail.FetchOptions
}

func (s *staticSource) Fetch(_ context.Context, opts mail.FetchOptions) ([]mail.Message, error) {
	s.lastOpts = opts
	return s.messages, s.err
}

type staticLLM struct {
	verdict llm.RawVerdict
	calls   int
}

func (s *staticLLM) ClassifyOne(context.Context, llm.Request) (llm.RawVerdict, error) {
	s.calls++
	return s.verdict, nil
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 9, 0, 0, 0, time.UTC)
}

func fixtureMailbox() []mail.Message {
	return []mail.Message{
		{
			ID: "m1", ThreadID: "t1", Date: day(1),
			FromEmail: "jobs@acme.com",
			Subject:   "Thanks for applying for the role of staff engineer",
			Snippet:   "We received your application",
		},
		{
			ID: "m2", ThreadID: "t1", Date: day(5),
			FromEmail: "jobs@acme.com",
			Subject:   "Interview confirmation for the role of staff engineer",
			Snippet:   "Your interview has been scheduled",
		},
		{
			ID: "m3", ThreadID: "t2", Date: day(9),
			FromEmail: "careers@globex.com",
			Subject:   "Offer letter for the role of data engineer",
			Snippet:   "We are pleased to offer you the position",
		},
		{
			ID: "m4", ThreadID: "t3", Date: day(2),
			FromEmail: "news@updates.example.com",
			Subject:   "Weekly newsletter digest",
			Snippet:   "This week in tech",
		},
	}
}

// slowSource simulates a paginated fetch: several provider calls, each fast
// on its own but slow in aggregate.
type slowSource struct {
	perCall     time.Duration
	calls       int
	hadDeadline bool
}

func (s *slowSource) Fetch(ctx context.Context, opts mail.FetchOptions) ([]mail.Message, error) {
	_, s.hadDeadline = ctx.Deadline()
	for i := 0; i < 3; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.perCall):
			s.calls++
		}
	}
	return fixtureMailbox(), nil
}

func baseOptions(t *testing.T, src mail.Source) Options {
	t.Helper()
	return Options{
		Source:     "sample",
		StartDate:  "2026-03-01",
		EndDate:    "2026-03-31",
		OutDir:     t.TempDir(),
		MailSource: src,
	}
}

func TestRunMailTimeoutDoesNotBoundWholeFetch(t *testing.T) {
	src := &slowSource{perCall: 20 * time.Millisecond}
	opts := baseOptions(t, src)
	// Each provider call stays inside this budget; only their sum exceeds it.
	opts.MailTimeout = 30 * time.Millisecond
	opts.DryRun = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
	assert.False(t, src.hadDeadline, "fetch context must not carry a whole-scan deadline")
	assert.Equal(t, 2, result.Metrics.Applications)
}

func TestRunValidation(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Options)
		field string
	}{
		{"unknown source", func(o *Options) { o.Source = "imap" }, "source"},
		{"missing dates", func(o *Options) { o.StartDate = "" }, "start/end"},
		{"bad start date", func(o *Options) { o.StartDate = "March 1" }, "start"},
		{"start after end", func(o *Options) { o.StartDate = "2026-04-01" }, "start/end"},
		{"max messages too large", func(o *Options) { o.MaxMessages = 5001 }, "max_messages"},
		{"csv without path", func(o *Options) { o.Source = "csv" }, "csv_path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := baseOptions(t, &staticSource{})
			tc.mut(&opts)
			_, err := Run(context.Background(), opts)
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestRunComputesFunnelMetrics(t *testing.T) {
	src := &staticSource{messages: fixtureMailbox()}
	opts := baseOptions(t, src)
	opts.DryRun = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Metrics.Applications)
	assert.Equal(t, 1, result.Metrics.Interviews)
	assert.Equal(t, 1, result.Metrics.Offers)
	assert.Equal(t, 100.0, result.Rates.ReplyRatePct)
	assert.Regexp(t, `^\d{8}T\d{6}Z-[0-9a-f]{8}$`, result.RunID)
	assert.NotEmpty(t, result.Summary)

	// Bodies are only fetched for the AI path.
	assert.False(t, src.lastOpts.IncludeBody)
	assert.Equal(t, 2000, src.lastOpts.MaxMessages)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	opts := baseOptions(t, &staticSource{messages: fixtureMailbox()})
	opts.DryRun = true
	opts.Audit = true
	opts.Report = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, result.Artifacts)

	entries, err := os.ReadDir(opts.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunWritesArtifactsAndReporters(t *testing.T) {
	opts := baseOptions(t, &staticSource{messages: fixtureMailbox()})
	opts.Audit = true
	opts.Report = true
	opts.KeyDebug = true
	opts.DomainDebug = true
	opts.Reconcile = true
	opts.FirstScanReport = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	for _, key := range []string{
		"json_path", "png_path", "application_summary_csv_path", "audit_csv_path",
		"metadata_cache_json_path", "first_scan_report_csv_path", "rule_report_path",
		"applications_debug_csv_path", "company_collisions_csv_path",
		"role_extraction_debug_csv_path", "domain_debug_csv_path",
		"reconcile_csv_path", "oa_false_positives_csv_path",
	} {
		path, ok := result.Artifacts[key]
		require.True(t, ok, key)
		assert.FileExists(t, path, key)
	}

	payload, err := os.ReadFile(result.Artifacts["json_path"])
	require.NoError(t, err)
	var metricsDoc struct {
		RunID     string            `json:"run_id"`
		Artifacts map[string]string `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(payload, &metricsDoc))
	assert.Equal(t, result.RunID, metricsDoc.RunID)
	assert.Contains(t, metricsDoc.Artifacts, "application_summary_csv_path")

	report, err := os.ReadFile(result.Artifacts["rule_report_path"])
	require.NoError(t, err)
	assert.Contains(t, string(report), "# Rule-Hit Confusion Report")
}

func TestRunAIPathWithInjectedClient(t *testing.T) {
	client := &staticLLM{verdict: llm.RawVerdict{
		IsJobRelated: true,
		Company:      "Acme",
		Position:     "Staff Engineer",
		EventType:    "application",
		Confidence:   0.8,
	}}
	src := &staticSource{messages: fixtureMailbox()}
	opts := baseOptions(t, src)
	opts.AIClassify = true
	opts.Client = client

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	// The AI path sees the full fetched set, kept or not.
	assert.Equal(t, len(fixtureMailbox()), client.calls)
	assert.True(t, src.lastOpts.IncludeBody)

	for _, key := range []string{
		"relevant_emails_csv_path", "ai_message_classification_csv_path",
		"ai_application_table_csv_path", "ai_result_summary_json_path",
		"ai_sankey_png_path",
	} {
		path, ok := result.Artifacts[key]
		require.True(t, ok, key)
		assert.FileExists(t, path, key)
	}
	assert.Contains(t, strings.Join(result.Summary, "\n"), "AI result summary")
}

func TestRunFetchErrorIsFatal(t *testing.T) {
	opts := baseOptions(t, &staticSource{err: mail.ErrTokenMissing})
	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mail.ErrTokenMissing))
}

func TestRunDebugSamples(t *testing.T) {
	opts := baseOptions(t, &staticSource{messages: fixtureMailbox()})
	opts.DryRun = true
	opts.DebugSample = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	// Three kept messages, each sampled at most once.
	assert.Len(t, result.DebugSamples, 3)
}

func TestRulePathReminderDowngrade(t *testing.T) {
	reminder := mail.Message{
		ID: "r1", ThreadID: "t1", Date: day(3),
		FromEmail: "jobs@acme.com",
		Subject:   "Reminder: your interview is on Tuesday for the role of staff engineer",
		Snippet:   "See you soon",
	}
	invite := mail.Message{
		ID: "i1", ThreadID: "t1", Date: day(2),
		FromEmail: "jobs@acme.com",
		Subject:   "Interview confirmation for the role of staff engineer",
		Snippet:   "Your interview has been scheduled",
	}

	t.Run("without prior interview", func(t *testing.T) {
		events, diags := runRulePath([]mail.Message{reminder})
		assert.Empty(t, events)
		require.Len(t, diags, 1)
		assert.True(t, diags[0].Ignored)
		assert.Equal(t, "reminder_without_prior_interview", diags[0].IgnoreReason)
	})

	t.Run("with prior interview", func(t *testing.T) {
		events, diags := runRulePath([]mail.Message{invite, reminder})
		require.Len(t, events, 2)
		assert.Equal(t, classify.EventInterviewInvite, events[0].Type)
		assert.Equal(t, classify.EventRoundUpdate, events[1].Type)
		assert.Equal(t, classify.StageInterview, events[1].Stage)
		require.Len(t, diags, 2)
		assert.Equal(t, classify.EventRoundUpdate, diags[1].EventType)
	})
}

func TestResolveSourceCSVAndUnknown(t *testing.T) {
	src, err := resolveSource(Options{Source: "csv", CSVPath: filepath.Join(t.TempDir(), "rows.csv")})
	require.NoError(t, err)
	_, ok := src.(mail.CSVSource)
	assert.True(t, ok)

	_, err = resolveSource(Options{Source: "imap"})
	assert.True(t, errors.Is(err, mail.ErrUnknownSource))
}
