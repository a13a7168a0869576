package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/offertracker/internal/config"
	"github.com/ignite/offertracker/internal/funnel"
	"github.com/ignite/offertracker/internal/pipeline"
)

func testServer(t *testing.T, runner Runner) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Artifacts.OutDir = t.TempDir()
	h := NewHandlers(cfg, runner)
	return SetupRoutes(h, nil)
}

func okRunner(result *pipeline.RunResult) Runner {
	return func(context.Context, pipeline.Options) (*pipeline.RunResult, error) {
		return result, nil
	}
}

func postRun(t *testing.T, handler http.Handler, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func waitForStatus(t *testing.T, handler http.Handler, id, want string) RunRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/runs/"+id, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var record RunRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
		if record.Status == want {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", id, want)
	return RunRecord{}
}

func TestHealthCheck(t *testing.T) {
	handler := testServer(t, okRunner(&pipeline.RunResult{}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateRunCompletes(t *testing.T) {
	result := &pipeline.RunResult{
		RunID:   "20260301T000000Z-abcd1234",
		Metrics: funnel.Metrics{Applications: 3, Offers: 1},
	}
	handler := testServer(t, okRunner(result))

	rec := postRun(t, handler, map[string]any{
		"source": "sample", "start": "2026-03-01", "end": "2026-03-31",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.ID)
	assert.Equal(t, StatusRunning, accepted.Status)

	record := waitForStatus(t, handler, accepted.ID, StatusCompleted)
	require.NotNil(t, record.Result)
	assert.Equal(t, 3, record.Result.Metrics.Applications)
	assert.NotNil(t, record.FinishedAt)
}

func TestCreateRunRejectsInvalidOptions(t *testing.T) {
	handler := testServer(t, okRunner(&pipeline.RunResult{}))

	rec := postRun(t, handler, map[string]any{
		"source": "sample", "start": "not-a-date", "end": "2026-03-31",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid start")
}

func TestCreateRunRecordsFailure(t *testing.T) {
	handler := testServer(t, func(context.Context, pipeline.Options) (*pipeline.RunResult, error) {
		return nil, errors.New("mailbox unreachable")
	})

	rec := postRun(t, handler, map[string]any{
		"source": "sample", "start": "2026-03-01", "end": "2026-03-31",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	record := waitForStatus(t, handler, accepted.ID, StatusFailed)
	assert.Contains(t, record.Error, "mailbox unreachable")
	assert.Nil(t, record.Result)
}

func TestListRunsNewestFirst(t *testing.T) {
	handler := testServer(t, okRunner(&pipeline.RunResult{}))

	first := postRun(t, handler, map[string]any{"source": "sample", "start": "2026-03-01", "end": "2026-03-31"})
	require.Equal(t, http.StatusAccepted, first.Code)
	second := postRun(t, handler, map[string]any{"source": "sample", "start": "2026-03-01", "end": "2026-03-31"})
	require.Equal(t, http.StatusAccepted, second.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Runs []RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Runs, 2)
}

func TestOptionsForAppliesConfigGatesAndCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Artifacts.OutDir = t.TempDir()
	cfg.Outlook = config.OutlookConfig{ClientID: "client", ClientSecret: "secret", TenantID: "tenant"}
	cfg.LLM.Enabled = false
	h := NewHandlers(cfg, okRunner(&pipeline.RunResult{}))

	req := CreateRunRequest{Source: "outlook", Start: "2026-03-01", End: "2026-03-31", AIClassify: true}
	opts := h.optionsFor(req, "run-1")
	assert.False(t, opts.AIClassify, "llm.enabled: false vetoes the request")
	assert.Equal(t, "client", opts.OutlookClientID)
	assert.Equal(t, "secret", opts.OutlookClientSecret)
	assert.Equal(t, "tenant", opts.OutlookTenantID)

	cfg.LLM.Enabled = true
	opts = h.optionsFor(req, "run-2")
	assert.True(t, opts.AIClassify)
}

func TestGetRunNotFound(t *testing.T) {
	handler := testServer(t, okRunner(&pipeline.RunResult{}))
	req := httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
