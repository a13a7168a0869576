// Package gmail fetches mailbox messages through the Gmail read-only API.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ignite/offertracker/internal/mail"
	"github.com/ignite/offertracker/internal/pkg/logger"
)

// Source fetches messages from Gmail using stored OAuth tokens. Timeout
// bounds each API call individually; the scan as a whole has no deadline.
type Source struct {
	CredentialsPath      string
	TokenDir             string
	QueryMode            string // "strict" or "broad"
	AllowInteractiveAuth bool
	Timeout              time.Duration
}

// callCtx bounds one API round trip. A zero Timeout leaves the parent
// context alone.
func (s Source) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}

var applicationSubjectKeywords = []string{
	"application",
	"applying",
	"thanks for applying",
	"interview",
	"availability",
	"schedule",
	"next steps",
	"hiring manager",
	"phone screen",
	"assessment",
	"hackerrank",
	"codility",
	"take-home",
	"offer",
	"not moving forward",
	"regret to inform",
	"rejected",
}

var rejectionAnywhereKeywords = []string{
	"candidate rejection",
	"journey has come to an end",
	"application has come to an end",
}

var excludeSubjectKeywords = []string{
	"newsletter",
	"digest",
	"invoice",
	"receipt",
	"statement",
	"reservation confirmation",
	"payment",
	"security alert",
}

var excludeDomains = []string{"substack.com", "medium.com", "airbnb.com"}

func quoteToken(token string) string {
	if strings.Contains(token, " ") {
		return `"` + token + `"`
	}
	return token
}

// dateQuery builds the Gmail date window clause. Gmail's before: bound is
// exclusive, so the end date is widened by one day to keep it inclusive.
func dateQuery(start, end time.Time) string {
	dayAfter := end.AddDate(0, 0, 1)
	return fmt.Sprintf("after:%s before:%s", start.Format("2006/01/02"), dayAfter.Format("2006/01/02"))
}

// strictQuerySuffix narrows the server-side search to application-shaped
// mail. Broad mode skips it and lets the local filters decide.
func strictQuerySuffix() string {
	includeAny := make([]string, 0, len(applicationSubjectKeywords)+len(rejectionAnywhereKeywords))
	for _, k := range applicationSubjectKeywords {
		includeAny = append(includeAny, "subject:"+quoteToken(k))
	}
	for _, k := range rejectionAnywhereKeywords {
		includeAny = append(includeAny, quoteToken(k))
	}

	excludeSubject := make([]string, 0, len(excludeSubjectKeywords))
	for _, k := range excludeSubjectKeywords {
		excludeSubject = append(excludeSubject, "-subject:"+quoteToken(k))
	}
	excludeFrom := make([]string, 0, len(excludeDomains))
	for _, d := range excludeDomains {
		excludeFrom = append(excludeFrom, "-from:"+d)
	}

	special := "(-from:linkedin.com OR subject:application OR subject:interview) " +
		"(-from:bizreach.co.jp OR subject:application OR subject:interview)"

	return fmt.Sprintf("(%s) %s %s %s",
		strings.Join(includeAny, " OR "),
		strings.Join(excludeSubject, " "),
		strings.Join(excludeFrom, " "),
		special,
	)
}

// BuildQuery assembles the full Gmail search query for a scan window.
func (s Source) BuildQuery(start, end time.Time) string {
	q := dateQuery(start, end)
	if s.QueryMode != "broad" {
		q = q + " " + strictQuerySuffix()
	}
	return strings.TrimSpace(q)
}

// resolveTokenPath mirrors the token layout used by the connect flow:
// TokenDir may point directly at a token file, otherwise tokens live at
// <dir>/gmail_token_<email>.json. Without an email, a legacy ./token.json or
// the first stored token is reused.
func (s Source) resolveTokenPath(email string) string {
	if fi, err := os.Stat(s.TokenDir); err == nil && !fi.IsDir() {
		return s.TokenDir
	}
	if email != "" {
		return filepath.Join(s.TokenDir, "gmail_token_"+mail.SafeEmail(email)+".json")
	}
	if _, err := os.Stat("token.json"); err == nil {
		return "token.json"
	}
	matches, _ := filepath.Glob(filepath.Join(s.TokenDir, "gmail_token_*.json"))
	if len(matches) > 0 {
		sort.Strings(matches)
		return matches[0]
	}
	return filepath.Join(s.TokenDir, "gmail_token_"+mail.SafeEmail("me")+".json")
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// tokenFromPrompt runs the out-of-band OAuth flow: print the consent URL and
// read the authorization code from stdin. Used only when interactive auth is
// allowed and no stored token exists.
func tokenFromPrompt(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following link in your browser, then paste the authorization code:\n%v\n", authURL)

	var code string
	if _, err := fmt.Scan(&code); err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func (s Source) httpClient(ctx context.Context, email string) (*http.Client, error) {
	credBytes, err := os.ReadFile(s.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("gmail: credentials file not found: %w", err)
	}
	cfg, err := google.ConfigFromJSON(credBytes, gmailv1.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: parse credentials: %w", err)
	}

	tokenPath := s.resolveTokenPath(email)
	tok, err := loadToken(tokenPath)
	if err != nil {
		if !s.AllowInteractiveAuth {
			return nil, fmt.Errorf("gmail: %w", mail.ErrTokenMissing)
		}
		tok, err = tokenFromPrompt(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("gmail: %w", err)
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, fmt.Errorf("gmail: save token: %w", err)
		}
	}
	if !tok.Valid() && tok.RefreshToken == "" && !s.AllowInteractiveAuth {
		return nil, fmt.Errorf("gmail: %w", mail.ErrTokenMissing)
	}
	return cfg.Client(ctx, tok), nil
}

// Fetch pages through the mailbox and returns normalized messages, newest
// pages first as Gmail serves them.
func (s Source) Fetch(ctx context.Context, opts FetchOptionsAlias) ([]mail.Message, error) {
	client, err := s.httpClient(ctx, opts.Email)
	if err != nil {
		return nil, err
	}
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail: build service: %w", err)
	}

	query := s.BuildQuery(opts.Start, opts.End)
	mode := s.QueryMode
	if mode == "" {
		mode = "strict"
	}
	logger.Debug("gmail query built", "mode", mode, "query", query)

	out := make([]mail.Message, 0, opts.MaxMessages)
	pageToken := ""

	for len(out) < opts.MaxMessages {
		batchSize := int64(opts.MaxMessages - len(out))
		if batchSize > 500 {
			batchSize = 500
		}
		listCtx, cancelList := s.callCtx(ctx)
		call := svc.Users.Messages.List("me").Q(query).MaxResults(batchSize).Context(listCtx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		cancelList()
		if err != nil {
			return nil, fmt.Errorf("gmail: list messages: %w", err)
		}
		if len(resp.Messages) == 0 {
			break
		}

		for _, stub := range resp.Messages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			getCtx, cancelGet := s.callCtx(ctx)
			get := svc.Users.Messages.Get("me", stub.Id).Context(getCtx)
			if opts.IncludeBody {
				get = get.Format("full")
			} else {
				get = get.Format("metadata").MetadataHeaders("From", "To", "Subject", "Date")
			}
			raw, err := get.Do()
			cancelGet()
			if err != nil {
				return nil, fmt.Errorf("gmail: get message %s: %w", stub.Id, err)
			}
			out = append(out, normalizeMessage(raw, opts.IncludeBody))
			if len(out) >= opts.MaxMessages {
				break
			}
		}

		logger.Info("gmail fetch progress", "fetched", len(out), "max", opts.MaxMessages)
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return out, nil
}

// FetchOptionsAlias keeps the adapter signature aligned with the mail
// package contract.
type FetchOptionsAlias = mail.FetchOptions

func normalizeMessage(raw *gmailv1.Message, includeBody bool) mail.Message {
	headers := headerMap(raw)
	occurred := parseHeaderDate(headers["date"])
	if raw.InternalDate > 0 {
		occurred = time.UnixMilli(raw.InternalDate).UTC()
	}

	body := ""
	if includeBody && raw.Payload != nil {
		body = mail.TruncateBody(extractBodyText(raw.Payload))
	}

	threadID := raw.ThreadId
	if threadID == "" {
		threadID = raw.Id
	}
	return mail.Message{
		ID:        raw.Id,
		ThreadID:  threadID,
		Date:      occurred,
		FromEmail: headers["from"],
		Subject:   headers["subject"],
		Snippet:   raw.Snippet,
		Body:      body,
	}
}

func headerMap(raw *gmailv1.Message) map[string]string {
	mapped := map[string]string{}
	if raw.Payload == nil {
		return mapped
	}
	for _, h := range raw.Payload.Headers {
		mapped[strings.ToLower(h.Name)] = h.Value
	}
	return mapped
}

var headerDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

func parseHeaderDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	// Some senders append a "(UTC)" style comment after the offset.
	if idx := strings.Index(raw, " ("); idx > 0 {
		raw = raw[:idx]
	}
	for _, layout := range headerDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func decodeB64URL(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

var tagRe = regexp.MustCompile(`<[^>]+>`)
var spaceRe = regexp.MustCompile(`\s+`)

func stripHTML(text string) string {
	noTags := tagRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(html.UnescapeString(noTags), " "))
}

// extractBodyText walks the MIME tree preferring text/plain parts, then
// stripped text/html, then the top-level body data.
func extractBodyText(payload *gmailv1.MessagePart) string {
	mime := strings.ToLower(payload.MimeType)
	bodyData := ""
	if payload.Body != nil {
		bodyData = payload.Body.Data
	}

	if strings.HasPrefix(mime, "text/plain") {
		return strings.TrimSpace(decodeB64URL(bodyData))
	}
	if strings.HasPrefix(mime, "text/html") {
		return stripHTML(decodeB64URL(bodyData))
	}

	var plain, htmlParts []string
	for _, p := range payload.Parts {
		if p == nil {
			continue
		}
		extracted := extractBodyText(p)
		if extracted == "" {
			continue
		}
		switch {
		case strings.HasPrefix(strings.ToLower(p.MimeType), "text/plain"):
			plain = append(plain, extracted)
		case strings.HasPrefix(strings.ToLower(p.MimeType), "text/html"):
			htmlParts = append(htmlParts, extracted)
		default:
			plain = append(plain, extracted)
		}
	}
	if len(plain) > 0 {
		return strings.TrimSpace(strings.Join(plain, "\n"))
	}
	if len(htmlParts) > 0 {
		return strings.TrimSpace(strings.Join(htmlParts, "\n"))
	}
	return strings.TrimSpace(decodeB64URL(bodyData))
}
