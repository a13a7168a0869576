package mail

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// CSVSource reads messages from a local CSV export. Rows only need a date
// and a company; subject, snippet and sender are synthesized when absent so
// hand-maintained tracking sheets can drive a full run.
type CSVSource struct {
	Path string
}

func (s CSVSource) Fetch(ctx context.Context, opts FetchOptions) ([]Message, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("csv source: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var out []Message
	for idx := 1; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv source: row %d: %w", idx, err)
		}

		day, err := time.Parse("2006-01-02", field(record, "date"))
		if err != nil {
			continue
		}
		if day.Before(opts.Start) || day.After(opts.End) {
			continue
		}

		company := field(record, "company")
		if company == "" {
			company = "unknown-company"
		}
		stage := field(record, "stage")
		subject := field(record, "subject")
		if subject == "" {
			subject = strings.TrimSpace(company + " " + stage)
		}
		snippet := field(record, "snippet")
		if snippet == "" {
			snippet = "Stage update: " + stage
		}
		body := field(record, "body")
		if body == "" {
			body = snippet
		}
		sender := field(record, "from_email")
		if sender == "" {
			sender = "careers@" + strings.ReplaceAll(strings.ToLower(company), " ", "-") + ".com"
		}
		threadID := field(record, "thread_id")
		if threadID == "" {
			threadID = "csv-" + strings.ReplaceAll(strings.ToLower(company), " ", "-")
		}

		out = append(out, Message{
			ID:        fmt.Sprintf("csv-%d", idx),
			ThreadID:  threadID,
			Date:      time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			FromEmail: sender,
			Subject:   subject,
			Snippet:   snippet,
			Body:      body,
		})
	}
	return out, nil
}
