package logsink

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"codelens-ci/internal/logging"
	"codelens-ci/internal/telemetry"
)

// Writer is the slice of the ledger the sink needs.
type Writer interface {
	AppendJobLog(ctx context.Context, jobID, content string, ts time.Time) error
}

const persistTimeout = 5 * time.Second

// Sink appends structured lines to one job's durable log stream. It is an
// explicit dependency handed to the pipeline for the duration of a single
// run, never an ambient global: Detach stops persistence on every exit path.
//
// Persistence failures are swallowed so logging can never abort a pipeline;
// they are counted for operational diagnosis and mirrored to the process log.
type Sink struct {
	writer   Writer
	jobID    string
	detached atomic.Bool
}

// New attaches a sink to a job's log stream.
func New(writer Writer, jobID string) *Sink {
	return &Sink{writer: writer, jobID: jobID}
}

// Append persists one timestamped, level-prefixed line.
func (s *Sink) Append(level, message string) {
	if s == nil || s.detached.Load() {
		return
	}
	ts := time.Now().UTC()
	line := fmt.Sprintf("%s - %s", strings.ToUpper(level), message)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.writer.AppendJobLog(ctx, s.jobID, line, ts); err != nil {
		telemetry.LogWriteDrops.Inc()
		logging.L().WithField("job_id", s.jobID).WithError(err).Warn("dropped job log line")
	}
}

// Infof appends a formatted info-level line.
func (s *Sink) Infof(format string, args ...any) {
	s.Append("info", fmt.Sprintf(format, args...))
}

// Errorf appends a formatted error-level line.
func (s *Sink) Errorf(format string, args ...any) {
	s.Append("error", fmt.Sprintf(format, args...))
}

// Detach stops the sink; later appends are no-ops. Safe to call repeatedly.
func (s *Sink) Detach() {
	if s != nil {
		s.detached.Store(true)
	}
}
