package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/offertracker/internal/config"
	"github.com/ignite/offertracker/internal/pipeline"
	"github.com/ignite/offertracker/internal/pkg/logger"
)

// Run lifecycle states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is one submitted run and its outcome.
type RunRecord struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	SubmittedAt time.Time           `json:"submitted_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	Error       string              `json:"error,omitempty"`
	Result      *pipeline.RunResult `json:"result,omitempty"`
}

// CreateRunRequest is the POST /api/runs payload. Omitted fields fall back
// to the server's configured defaults.
type CreateRunRequest struct {
	Source          string `json:"source"`
	Email           string `json:"email"`
	Start           string `json:"start"`
	End             string `json:"end"`
	MaxMessages     int    `json:"max_messages"`
	CSVPath         string `json:"csv_path"`
	DryRun          bool   `json:"dry_run"`
	AIClassify      bool   `json:"ai_classify"`
	Audit           bool   `json:"audit"`
	Report          bool   `json:"report"`
	KeyDebug        bool   `json:"key_debug"`
	DomainDebug     bool   `json:"domain_debug"`
	Reconcile       bool   `json:"reconcile"`
	FirstScanReport bool   `json:"first_scan_report"`
}

// Handlers holds the run registry and shared state.
type Handlers struct {
	cfg    *config.Config
	runner Runner

	mu   sync.RWMutex
	runs map[string]*RunRecord
	wg   sync.WaitGroup
}

// NewHandlers creates the handler set with an empty registry.
func NewHandlers(cfg *config.Config, runner Runner) *Handlers {
	return &Handlers{cfg: cfg, runner: runner, runs: map[string]*RunRecord{}}
}

// Wait blocks until in-flight runs finish or the context expires.
func (h *Handlers) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) optionsFor(req CreateRunRequest, runID string) pipeline.Options {
	cfg := h.cfg
	opts := pipeline.Options{
		Source:          req.Source,
		Email:           req.Email,
		StartDate:       req.Start,
		EndDate:         req.End,
		MaxMessages:     req.MaxMessages,
		CSVPath:         req.CSVPath,
		DryRun:          req.DryRun,
		// llm.enabled acts as a server-side kill switch over the request.
		AIClassify:      req.AIClassify && cfg.LLM.Enabled,
		Audit:           req.Audit,
		Report:          req.Report,
		KeyDebug:        req.KeyDebug,
		DomainDebug:     req.DomainDebug,
		Reconcile:       req.Reconcile,
		FirstScanReport: req.FirstScanReport,

		OutDir:          filepath.Join(cfg.Artifacts.OutDir, "runs", runID),
		Title:           cfg.Render.Title,
		Watermark:       cfg.Render.Watermark,
		CredentialsPath: cfg.Gmail.CredentialsPath,
		TokenDir:        cfg.Mail.TokenDir,
		GmailQueryMode:  cfg.Gmail.QueryMode,
		MailTimeout:     cfg.Mail.Timeout(),

		OutlookClientID:     cfg.Outlook.ClientID,
		OutlookClientSecret: cfg.Outlook.ClientSecret,
		OutlookTenantID:     cfg.Outlook.TenantID,
		AIModel:         cfg.LLM.Model,
		AIBaseURL:       cfg.LLM.BaseURL,
		AIMaxBodyChars:  cfg.LLM.MaxBodyChars,
		AIConcurrency:   cfg.LLM.Concurrency,
		AITimeout:       cfg.LLM.Timeout(),
	}
	if opts.Source == "" {
		opts.Source = cfg.Mail.Source
	}
	if opts.Email == "" {
		opts.Email = cfg.Mail.Email
	}
	if opts.MaxMessages == 0 {
		opts.MaxMessages = cfg.Mail.MaxMessages
	}
	if opts.CSVPath == "" {
		opts.CSVPath = cfg.Mail.CSVPath
	}
	return opts
}

// CreateRun validates the request, registers a run and executes it in the
// background. The response carries the run id for polling.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	runID := uuid.NewString()
	opts := h.optionsFor(req, runID)
	if err := pipeline.Validate(opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := &RunRecord{
		ID:          runID,
		Status:      StatusRunning,
		SubmittedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.runs[runID] = record
	h.mu.Unlock()
	accepted := *record

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		result, err := h.runner(context.Background(), opts)
		now := time.Now().UTC()

		h.mu.Lock()
		defer h.mu.Unlock()
		record.FinishedAt = &now
		if err != nil {
			record.Status = StatusFailed
			record.Error = err.Error()
			logger.Warn("api run failed", "id", runID, "error", err.Error())
			return
		}
		record.Status = StatusCompleted
		record.Result = result
	}()

	writeJSON(w, http.StatusAccepted, accepted)
}

// ListRuns returns every registered run, newest first. Records are copied
// under the lock so serialization never races a finishing run.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	out := make([]RunRecord, 0, len(h.runs))
	for _, rec := range h.runs {
		out = append(out, *rec)
	}
	h.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun returns one run by id.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.RLock()
	record, ok := h.runs[id]
	var snapshot RunRecord
	if ok {
		snapshot = *record
	}
	h.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("api response encode failed", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
