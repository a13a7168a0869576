package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/offertracker/internal/mail"
)

func writeToken(t *testing.T, dir string, tok storedToken) string {
	t.Helper()
	path := filepath.Join(dir, "outlook_token_user_example.com.json")
	payload, err := json.Marshal(tok)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, payload, 0o600))
	return path
}

func graphMessageJSON(id, received, subject, preview string) map[string]any {
	return map[string]any{
		"id":               id,
		"conversationId":   "conv-" + id,
		"receivedDateTime": received,
		"subject":          subject,
		"bodyPreview":      preview,
		"from": map[string]any{
			"emailAddress": map[string]any{"name": "Acme Talent", "address": "jobs@acme.com"},
		},
		"body": map[string]any{
			"contentType": "html",
			"content":     "<p>Hello &amp; welcome</p>",
		},
	}
}

func fetchOpts(max int, includeBody bool) mail.FetchOptions {
	return mail.FetchOptions{
		Email:       "user@example.com",
		Start:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		MaxMessages: max,
		IncludeBody: includeBody,
	}
}

func TestFetchNormalizesAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.RawQuery, "receivedDateTime+ge+2026-03-01T00%3A00%3A00Z")
		assert.Contains(t, r.URL.RawQuery, "lt+2026-04-01T00%3A00%3A00Z")
		json.NewEncoder(w).Encode(map[string]any{
			"value": []any{
				graphMessageJSON("m2", "2026-03-10T12:00:00Z", "Interview confirmation", "see you"),
				graphMessageJSON("m1", "2026-03-02T08:00:00Z", "Thanks for applying", "received"),
			},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeToken(t, dir, storedToken{AccessToken: "tok-1"})
	src := Source{TokenDir: dir, BaseURL: srv.URL}

	msgs, err := src.Fetch(context.Background(), fetchOpts(10, true))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "conv-m1", msgs[0].ThreadID)
	assert.Equal(t, "jobs@acme.com", msgs[0].FromEmail)
	assert.Equal(t, "Hello & welcome", msgs[0].Body)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.True(t, msgs[0].Date.Before(msgs[1].Date))
}

func TestFetchFollowsNextLinkAndCapsAtMax(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page2" {
			json.NewEncoder(w).Encode(map[string]any{
				"value": []any{
					graphMessageJSON("m3", "2026-03-03T08:00:00Z", "c", ""),
					graphMessageJSON("m4", "2026-03-04T08:00:00Z", "d", ""),
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []any{
				graphMessageJSON("m1", "2026-03-01T08:00:00Z", "a", ""),
				graphMessageJSON("m2", "2026-03-02T08:00:00Z", "b", ""),
			},
			"@odata.nextLink": srv.URL + "/page2",
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeToken(t, dir, storedToken{AccessToken: "tok-1"})
	src := Source{TokenDir: dir, BaseURL: srv.URL}

	msgs, err := src.Fetch(context.Background(), fetchOpts(3, false))
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	// Bodies were not requested.
	assert.Empty(t, msgs[0].Body)
}

func TestFetchRefreshesOnAuthRejection(t *testing.T) {
	var graphCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-2", "expires_in": 3600})
			return
		}
		graphCalls++
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []any{graphMessageJSON("m1", "2026-03-01T08:00:00Z", "a", "")},
		})
	}))
	defer srv.Close()

	t.Setenv("MS_CLIENT_ID", "client")
	t.Setenv("MS_CLIENT_SECRET", "secret")

	dir := t.TempDir()
	path := writeToken(t, dir, storedToken{AccessToken: "tok-1", RefreshToken: "refresh-1"})
	src := Source{TokenDir: dir, BaseURL: srv.URL, TokenURL: srv.URL + "/token"}

	msgs, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, graphCalls)

	// Refreshed token was persisted, carrying the old refresh token forward.
	saved, err := loadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
	assert.Greater(t, saved.ExpiresAt, time.Now().Unix())
}

func TestFetchRefreshesExpiredTokenUpFront(t *testing.T) {
	var refreshed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			refreshed = true
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-2", "expires_in": 3600})
			return
		}
		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	t.Setenv("MS_CLIENT_ID", "client")
	t.Setenv("MS_CLIENT_SECRET", "secret")

	dir := t.TempDir()
	writeToken(t, dir, storedToken{
		AccessToken:  "tok-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	})
	src := Source{TokenDir: dir, BaseURL: srv.URL, TokenURL: srv.URL + "/token"}

	_, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.NoError(t, err)
	assert.True(t, refreshed)
}

func TestFetchRefreshHonorsTypoSecretAlias(t *testing.T) {
	var gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			require.NoError(t, r.ParseForm())
			gotSecret = r.Form.Get("client_secret")
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-2", "expires_in": 3600})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	t.Setenv("MS_CLIENT_ID", "client")
	t.Setenv("MS_CLIENT_SECRET", "")
	// Deployed .env files still carry the misspelled variable.
	t.Setenv("MS_CLENT_SECRET", "legacy-secret")

	dir := t.TempDir()
	writeToken(t, dir, storedToken{
		AccessToken:  "tok-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	})
	src := Source{TokenDir: dir, BaseURL: srv.URL, TokenURL: srv.URL + "/token"}

	_, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.NoError(t, err)
	assert.Equal(t, "legacy-secret", gotSecret)
}

func TestFetchRefreshUsesConfiguredCredentials(t *testing.T) {
	var gotID, gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			require.NoError(t, r.ParseForm())
			gotID = r.Form.Get("client_id")
			gotSecret = r.Form.Get("client_secret")
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-2", "expires_in": 3600})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	// Configured credentials win; the environment stays untouched.
	t.Setenv("MS_CLIENT_ID", "")
	t.Setenv("MS_CLIENT_SECRET", "")
	t.Setenv("MS_CLENT_SECRET", "")

	dir := t.TempDir()
	writeToken(t, dir, storedToken{
		AccessToken:  "tok-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	})
	src := Source{
		TokenDir:     dir,
		ClientID:     "cfg-client",
		ClientSecret: "cfg-secret",
		TenantID:     "tenant-x",
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/token",
	}

	_, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.NoError(t, err)
	assert.Equal(t, "cfg-client", gotID)
	assert.Equal(t, "cfg-secret", gotSecret)
}

func TestFetchTimeoutAppliesPerRequest(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		if r.URL.Path == "/page2" {
			json.NewEncoder(w).Encode(map[string]any{
				"value": []any{graphMessageJSON("m2", "2026-03-02T08:00:00Z", "b", "")},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value":           []any{graphMessageJSON("m1", "2026-03-01T08:00:00Z", "a", "")},
			"@odata.nextLink": srv.URL + "/page2",
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeToken(t, dir, storedToken{AccessToken: "tok-1"})
	// Each page response takes 60ms; both fit a 200ms per-request budget
	// even though the scan as a whole takes longer.
	src := Source{TokenDir: dir, BaseURL: srv.URL, Timeout: 200 * time.Millisecond}

	msgs, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestFetchTimeoutBoundsSingleRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeToken(t, dir, storedToken{AccessToken: "tok-1"})
	src := Source{TokenDir: dir, BaseURL: srv.URL, Timeout: 50 * time.Millisecond}

	_, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchMissingTokenFile(t *testing.T) {
	src := Source{TokenDir: t.TempDir()}
	_, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mail.ErrTokenMissing))
}

func TestFetchExpiredWithoutRefreshToken(t *testing.T) {
	dir := t.TempDir()
	writeToken(t, dir, storedToken{AccessToken: "tok-1", ExpiresAt: time.Now().Add(-time.Hour).Unix()})
	src := Source{TokenDir: dir}

	_, err := src.Fetch(context.Background(), fetchOpts(10, false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mail.ErrTokenMissing))
}

func TestStoredTokenExpiry(t *testing.T) {
	now := time.Now()
	assert.False(t, storedToken{}.expired(now))
	assert.True(t, storedToken{ExpiresAt: now.Unix()}.expired(now))
	assert.False(t, storedToken{ExpiresAt: now.Add(time.Hour).Unix()}.expired(now))
	assert.True(t, storedToken{ExpiresIn: 3600, ObtainedAt: now.Add(-2 * time.Hour).Unix()}.expired(now))
}

func TestResolveTokenPathDirectFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))

	assert.Equal(t, file, Source{TokenDir: file}.resolveTokenPath("user@example.com"))
	assert.Equal(t,
		filepath.Join(dir, fmt.Sprintf("outlook_token_%s.json", "user_example.com")),
		Source{TokenDir: dir}.resolveTokenPath("user@example.com"))
}
