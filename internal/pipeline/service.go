package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"codelens-ci/internal/config"
	"codelens-ci/internal/gitclone"
	"codelens-ci/internal/llm"
	"codelens-ci/internal/logging"
	"codelens-ci/internal/logsink"
	"codelens-ci/internal/models"
	"codelens-ci/internal/sandbox"
	"codelens-ci/internal/telemetry"
)

// Ledger is the slice of the job store the service mutates. The service's
// goroutine is the only writer for its job, so every transition here is
// totally ordered.
type Ledger interface {
	TransitionJob(ctx context.Context, id string, to models.JobStatus, report *string) error
}

// ReportUploader archives the final report outside the job record. Optional.
type ReportUploader interface {
	UploadReport(ctx context.Context, jobID string, report []byte) (string, error)
}

// Service owns the full lifecycle of dispatched jobs: checkout, conversation,
// terminal transition, teardown. One Execute call runs per accepted delivery,
// on its own goroutine.
type Service struct {
	cfg      config.Config
	ledger   Ledger
	logs     logsink.Writer
	cloner   gitclone.Cloner
	runtime  sandbox.Runtime
	reasoner llm.Reasoner
	uploader ReportUploader
}

func NewService(cfg config.Config, ledger Ledger, logs logsink.Writer, cloner gitclone.Cloner, runtime sandbox.Runtime, reasoner llm.Reasoner, uploader ReportUploader) *Service {
	return &Service{
		cfg:      cfg,
		ledger:   ledger,
		logs:     logs,
		cloner:   cloner,
		runtime:  runtime,
		reasoner: reasoner,
		uploader: uploader,
	}
}

// Execute runs one job to a terminal state. It never returns an error: every
// failure mode ends as status=failed with a human-readable report, so a
// dispatched job can never silently vanish.
func (s *Service) Execute(ctx context.Context, job models.Job) {
	log := logging.L().WithField("job_id", job.ID)
	sink := logsink.New(s.logs, job.ID)
	defer sink.Detach()

	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	if err := s.ledger.TransitionJob(ctx, job.ID, models.StatusRunning, nil); err != nil {
		log.WithError(err).Error("could not mark job running")
		return
	}
	sink.Infof("starting pipeline for %s on %s (commit %s)", job.Pusher, job.Branch, job.CommitSHA)

	report, err := s.runPipeline(ctx, job, sink)
	if err != nil {
		sink.Errorf("pipeline critical failure: %v", err)
		s.finish(ctx, job.ID, models.StatusFailed, fmt.Sprintf("Critical failure: %v", err), log)
		return
	}
	if report == "" {
		report = "Report generation failed or not found."
	}
	s.finish(ctx, job.ID, models.StatusSuccess, report, log)
}

func (s *Service) runPipeline(ctx context.Context, job models.Job, sink *logsink.Sink) (string, error) {
	workDir, err := s.cloner.Checkout(ctx, job.RepoURL, job.CommitSHA)
	if err != nil {
		return "", fmt.Errorf("checkout: %w", err)
	}
	// The checkout is deleted on every exit path to bound disk usage.
	defer s.cloner.Cleanup(workDir)
	sink.Infof("repository checked out")

	structure, err := gitclone.StructureSummary(workDir, 200)
	if err != nil {
		return "", fmt.Errorf("summarize repository: %w", err)
	}
	sink.Infof("file structure analyzed")

	session := sandbox.NewSession(s.runtime, sandbox.Config{
		DefaultImage:   s.cfg.SandboxDefaultImage,
		RelayMode:      s.cfg.SandboxRelayMode,
		SharedVolume:   s.cfg.SharedVolumeName,
		WorkspaceBase:  s.cfg.WorkspaceBase,
		CommandTimeout: s.cfg.SandboxCommandTimeout,
	})
	coordinator := NewCoordinator(s.reasoner, session, sink, s.cfg.PipelineMaxTurns, s.cfg.ReportMinChars, s.cfg.LLMTurnTimeout)

	report, err := coordinator.Run(ctx, workDir, structure, job.ID)
	if err != nil {
		return "", err
	}

	s.persistArtifacts(ctx, job.ID, workDir, report, sink)
	return report, nil
}

// persistArtifacts writes the report file into the checkout and optionally
// archives it. Both are best effort; the report of record lives on the job.
func (s *Service) persistArtifacts(ctx context.Context, jobID, workDir, report string, sink *logsink.Sink) {
	path := filepath.Join(workDir, s.cfg.ReportFileName)
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		sink.Errorf("could not write %s: %v", s.cfg.ReportFileName, err)
	} else {
		sink.Infof("report saved to %s", s.cfg.ReportFileName)
	}

	if s.uploader != nil {
		uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if url, err := s.uploader.UploadReport(uploadCtx, jobID, []byte(report)); err != nil {
			sink.Errorf("report archive upload failed: %v", err)
		} else {
			sink.Infof("report archived at %s", url)
		}
	}
}

func (s *Service) finish(ctx context.Context, jobID string, status models.JobStatus, report string, log *logrus.Entry) {
	if err := s.ledger.TransitionJob(ctx, jobID, status, &report); err != nil {
		log.WithError(err).Error("terminal transition failed")
		return
	}
	switch status {
	case models.StatusSuccess:
		telemetry.JobsSucceeded.Inc()
	case models.StatusFailed:
		telemetry.JobsFailed.Inc()
	}
}
