package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"codelens-ci/internal/config"
	"codelens-ci/internal/logging"
	"codelens-ci/internal/models"
	"codelens-ci/internal/ratelimit"
	"codelens-ci/internal/store"
	"codelens-ci/internal/telemetry"
	"codelens-ci/internal/webhook"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Ledger is the slice of the job store the API reads and writes.
type Ledger interface {
	CreateJob(ctx context.Context, j models.Job) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
	JobLogs(ctx context.Context, jobID string) ([]models.LogEntry, error)
}

// DispatchFunc hands an accepted job to the pipeline. Implementations must
// not block: the webhook response goes out before the pipeline finishes.
type DispatchFunc func(job models.Job)

// Server wires the webhook ingress and the job query API.
type Server struct {
	cfg      config.Config
	ledger   Ledger
	limiter  *ratelimit.TokenBucket
	dispatch DispatchFunc
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, ledger Ledger, limiter *ratelimit.TokenBucket, dispatch DispatchFunc) *Server {
	return &Server{
		cfg:      cfg,
		ledger:   ledger,
		limiter:  limiter,
		dispatch: dispatch,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/webhook", s.handleWebhook)
	r.Get("/api/jobs", s.handleListJobs)
	r.Get("/api/jobs/{id}", s.handleGetJob)
	r.Get("/api/jobs/{id}/logs", s.handleJobLogs)
	return r
}

type webhookResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
	Msg    string `json:"msg"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		delivery = uuid.New().String()
	}
	log := logging.L().WithField("delivery", delivery)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	if !webhook.VerifySignature(body, r.Header.Get(webhook.SignatureHeader), s.cfg.WebhookSecret) {
		telemetry.WebhooksRejected.Inc()
		log.Warn("webhook rejected: bad signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	push, err := webhook.ParsePush(body)
	if err != nil {
		telemetry.WebhooksRejected.Inc()
		log.WithError(err).Warn("webhook rejected: bad payload")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		key := fmt.Sprintf("rl:repo:%s", push.RepoURL)
		allowed, _, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job := models.Job{
		ID:        models.DeriveJobID(push.CommitSHA),
		RepoURL:   push.RepoURL,
		CommitSHA: push.CommitSHA,
		Pusher:    push.Pusher,
		Branch:    push.Branch,
		Status:    models.StatusQueued,
	}
	created, err := s.ledger.CreateJob(r.Context(), job)
	if err != nil {
		// A replayed delivery maps to the same job id; acknowledge it
		// without dispatching a second pipeline.
		if errors.Is(err, store.ErrDuplicateJob) {
			log.WithField("job_id", job.ID).Info("duplicate delivery acknowledged")
			respondJSON(w, http.StatusAccepted, webhookResponse{
				Status: "queued",
				JobID:  job.ID,
				Msg:    "Job already accepted.",
			})
			return
		}
		log.WithError(err).Error("could not record job")
		http.Error(w, "could not record job", http.StatusInternalServerError)
		return
	}

	telemetry.WebhooksAccepted.Inc()
	log.WithField("job_id", created.ID).Info("webhook accepted, dispatching pipeline")
	s.dispatch(created)

	respondJSON(w, http.StatusAccepted, webhookResponse{
		Status: "queued",
		JobID:  created.ID,
		Msg:    "Agents dispatched.",
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.JobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	jobs, err := s.ledger.ListJobs(r.Context(), limit)
	if err != nil {
		http.Error(w, "could not list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ledger.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrUnknownJob) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.ledger.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrUnknownJob) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}
	logs, err := s.ledger.JobLogs(r.Context(), id)
	if err != nil {
		http.Error(w, "could not load logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []models.LogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"job_id": id, "logs": logs})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L().WithError(err).Warn("could not encode response")
	}
}
