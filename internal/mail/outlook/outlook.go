// Package outlook fetches mailbox messages through the Microsoft Graph API
// using a stored refresh-token grant.
package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ignite/offertracker/internal/mail"
	"github.com/ignite/offertracker/internal/pkg/httpretry"
	"github.com/ignite/offertracker/internal/pkg/logger"
)

const (
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
	defaultLoginBase = "https://login.microsoftonline.com"
	pageSizeCap      = 200
	tokenSkew        = 60 * time.Second
)

var scopes = []string{"openid", "profile", "email", "offline_access", "Mail.Read"}

// errGraphAuth marks a 401/403 from Graph; the caller refreshes the token
// once and retries before giving up.
var errGraphAuth = errors.New("outlook: graph auth rejected")

// Source fetches messages from Outlook via Microsoft Graph. BaseURL and
// TokenURL are overridable for tests; empty means the live endpoints.
// App credentials fall back to the MS_*/AZURE_* environment when unset.
// Timeout bounds each Graph/token request individually, not the whole scan.
type Source struct {
	TokenDir     string
	ClientID     string
	ClientSecret string
	TenantID     string
	Timeout      time.Duration
	BaseURL      string
	TokenURL     string
	HTTP         httpretry.HTTPDoer
}

type storedToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	ObtainedAt   int64  `json:"obtained_at,omitempty"`
}

// expired applies a safety skew so a token about to lapse mid-scan counts
// as expired now.
func (t storedToken) expired(now time.Time) bool {
	skewed := now.Add(tokenSkew).Unix()
	if t.ExpiresAt > 0 {
		return skewed >= t.ExpiresAt
	}
	if t.ExpiresIn > 0 && t.ObtainedAt > 0 {
		return skewed >= t.ObtainedAt+t.ExpiresIn
	}
	return false
}

// resolveTokenPath mirrors the connect flow's layout: TokenDir may point
// directly at a token file, otherwise tokens live at
// <dir>/outlook_token_<email>.json.
func (s Source) resolveTokenPath(email string) string {
	if fi, err := os.Stat(s.TokenDir); err == nil && !fi.IsDir() {
		return s.TokenDir
	}
	if email == "" {
		email = "me"
	}
	return filepath.Join(s.TokenDir, "outlook_token_"+mail.SafeEmail(email)+".json")
}

func loadToken(path string) (storedToken, error) {
	var tok storedToken
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tok, fmt.Errorf("outlook: %w", mail.ErrTokenMissing)
		}
		return tok, fmt.Errorf("outlook: reading token %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return tok, fmt.Errorf("outlook: invalid token JSON %s: %w", path, err)
	}
	return tok, nil
}

func saveToken(path string, tok storedToken) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("outlook: creating token dir: %w", err)
	}
	payload, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("outlook: encoding token: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("outlook: saving token %s: %w", path, err)
	}
	return nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

type oauthConfig struct {
	clientID     string
	clientSecret string
	tenantID     string
}

func (s Source) oauthConfig() (oauthConfig, error) {
	cfg := oauthConfig{
		clientID:     s.ClientID,
		clientSecret: s.ClientSecret,
		tenantID:     s.TenantID,
	}
	if cfg.clientID == "" {
		cfg.clientID = firstEnv("MS_CLIENT_ID", "MICROSOFT_CLIENT_ID", "AZURE_CLIENT_ID")
	}
	if cfg.clientSecret == "" {
		// MS_CLENT_SECRET is a historical misspelling still present in
		// deployed .env files.
		cfg.clientSecret = firstEnv("MS_CLIENT_SECRET", "MICROSOFT_CLIENT_SECRET", "AZURE_CLIENT_SECRET", "MS_CLENT_SECRET")
	}
	if cfg.tenantID == "" {
		cfg.tenantID = firstEnv("MS_TENANT_ID", "MICROSOFT_TENANT_ID", "AZURE_TENANT_ID")
	}
	if cfg.tenantID == "" {
		cfg.tenantID = "common"
	}
	if cfg.clientID == "" || cfg.clientSecret == "" {
		return cfg, errors.New("outlook: MS_CLIENT_ID and MS_CLIENT_SECRET are required to refresh tokens")
	}
	return cfg, nil
}

// requestCtx bounds one HTTP round trip. A zero Timeout leaves the parent
// context alone.
func (s Source) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func (s Source) httpClient() httpretry.HTTPDoer {
	if s.HTTP != nil {
		return s.HTTP
	}
	return httpretry.NewRetryClient(nil, 3)
}

func (s Source) tokenEndpoint(tenantID string) string {
	if s.TokenURL != "" {
		return s.TokenURL
	}
	return defaultLoginBase + "/" + tenantID + "/oauth2/v2.0/token"
}

func (s Source) graphBase() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return defaultGraphBase
}

// refreshToken exchanges the stored refresh token for a fresh access
// token and returns the merged payload.
func (s Source) refreshToken(ctx context.Context, tok storedToken) (storedToken, error) {
	if tok.RefreshToken == "" {
		return tok, fmt.Errorf("outlook: token expired and refresh_token missing: %w", mail.ErrTokenMissing)
	}
	cfg, err := s.oauthConfig()
	if err != nil {
		return tok, err
	}

	form := url.Values{
		"client_id":     {cfg.clientID},
		"client_secret": {cfg.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
		"scope":         {strings.Join(scopes, " ")},
	}
	reqCtx, cancel := s.requestCtx(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.tokenEndpoint(cfg.tenantID), strings.NewReader(form.Encode()))
	if err != nil {
		return tok, fmt.Errorf("outlook: building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return tok, fmt.Errorf("outlook: token refresh failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 300 {
			detail = detail[:300]
		}
		return tok, fmt.Errorf("outlook: token refresh failed (%d): %s", resp.StatusCode, detail)
	}

	var refreshed storedToken
	if err := json.Unmarshal(body, &refreshed); err != nil {
		return tok, fmt.Errorf("outlook: decoding refresh response: %w", err)
	}
	if refreshed.AccessToken == "" {
		return tok, errors.New("outlook: refresh response missing access_token")
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	refreshed.ObtainedAt = time.Now().Unix()
	if refreshed.ExpiresIn > 0 {
		refreshed.ExpiresAt = refreshed.ObtainedAt + refreshed.ExpiresIn
	}
	return refreshed, nil
}

type graphPage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphMessage struct {
	ID               string `json:"id"`
	ConversationID   string `json:"conversationId"`
	ReceivedDateTime string `json:"receivedDateTime"`
	Subject          string `json:"subject"`
	BodyPreview      string `json:"bodyPreview"`
	From             struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

func (s Source) graphGet(ctx context.Context, rawURL, accessToken string) (graphPage, error) {
	var page graphPage
	reqCtx, cancel := s.requestCtx(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return page, fmt.Errorf("outlook: building graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return page, fmt.Errorf("outlook: graph request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return page, fmt.Errorf("%w: status %d", errGraphAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 300 {
			detail = detail[:300]
		}
		return page, fmt.Errorf("outlook: graph request failed (%d): %s", resp.StatusCode, detail)
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return page, fmt.Errorf("outlook: decoding graph response: %w", err)
	}
	return page, nil
}

func isoUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// buildMessagesURL asks Graph for the window [start 00:00, end+1d 00:00)
// UTC, newest first, selecting only the fields the normalizer reads.
func (s Source) buildMessagesURL(start, end time.Time, includeBody bool, pageSize int) string {
	startDt := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDt := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	selectFields := []string{"id", "conversationId", "receivedDateTime", "from", "subject", "bodyPreview"}
	if includeBody {
		selectFields = append(selectFields, "body")
	}
	query := url.Values{
		"$select":  {strings.Join(selectFields, ",")},
		"$top":     {fmt.Sprintf("%d", pageSize)},
		"$orderby": {"receivedDateTime desc"},
		"$filter":  {fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s", isoUTC(startDt), isoUTC(endDt))},
	}
	return s.graphBase() + "/me/messages?" + query.Encode()
}

var tagRe = regexp.MustCompile(`<[^>]+>`)
var spaceRe = regexp.MustCompile(`\s+`)

func stripHTML(text string) string {
	noTags := tagRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(html.UnescapeString(noTags), " "))
}

func parseGraphDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func normalizeMessage(raw graphMessage, includeBody bool) mail.Message {
	body := ""
	if includeBody {
		body = raw.Body.Content
		if strings.EqualFold(raw.Body.ContentType, "html") {
			body = stripHTML(body)
		} else {
			body = strings.TrimSpace(body)
		}
		body = mail.TruncateBody(body)
	}

	threadID := raw.ConversationID
	if threadID == "" {
		threadID = raw.ID
	}
	return mail.Message{
		ID:        raw.ID,
		ThreadID:  threadID,
		Date:      parseGraphDate(raw.ReceivedDateTime),
		FromEmail: raw.From.EmailAddress.Address,
		Subject:   raw.Subject,
		Snippet:   raw.BodyPreview,
		Body:      body,
	}
}

func (s Source) fetchPages(ctx context.Context, accessToken string, opts mail.FetchOptions) ([]mail.Message, error) {
	pageSize := opts.MaxMessages
	if pageSize > pageSizeCap {
		pageSize = pageSizeCap
	}
	next := s.buildMessagesURL(opts.Start, opts.End, opts.IncludeBody, pageSize)

	out := make([]mail.Message, 0, opts.MaxMessages)
	for next != "" && len(out) < opts.MaxMessages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.graphGet(ctx, next, accessToken)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			out = append(out, normalizeMessage(item, opts.IncludeBody))
			if len(out) >= opts.MaxMessages {
				break
			}
		}
		logger.Info("outlook fetch progress", "fetched", len(out), "max", opts.MaxMessages)
		next = page.NextLink
	}
	return out, nil
}

// Fetch loads the stored token, refreshing it when stale, then pages
// through the window. A mid-scan auth rejection gets one refresh-and-retry
// before failing.
func (s Source) Fetch(ctx context.Context, opts mail.FetchOptions) ([]mail.Message, error) {
	if opts.MaxMessages <= 0 {
		return nil, nil
	}

	tokenPath := s.resolveTokenPath(opts.Email)
	tok, err := loadToken(tokenPath)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("outlook: access_token missing: %w", mail.ErrTokenMissing)
	}

	if tok.expired(time.Now()) {
		tok, err = s.refreshToken(ctx, tok)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}

	out, err := s.fetchPages(ctx, tok.AccessToken, opts)
	if errors.Is(err, errGraphAuth) {
		tok, err = s.refreshToken(ctx, tok)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
		out, err = s.fetchPages(ctx, tok.AccessToken, opts)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
