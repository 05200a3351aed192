package logsink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type memWriter struct {
	mu    sync.Mutex
	lines []string
	fail  bool
}

func (m *memWriter) AppendJobLog(_ context.Context, jobID, content string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db unavailable")
	}
	m.lines = append(m.lines, jobID+"|"+content)
	return nil
}

func TestSinkAppend(t *testing.T) {
	w := &memWriter{}
	s := New(w, "abc1234")

	s.Infof("pipeline started for %s", "alice")
	s.Errorf("step failed: %v", errors.New("boom"))

	if len(w.lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(w.lines))
	}
	if !strings.HasPrefix(w.lines[0], "abc1234|INFO - pipeline started") {
		t.Fatalf("unexpected first line: %s", w.lines[0])
	}
	if !strings.Contains(w.lines[1], "ERROR - step failed: boom") {
		t.Fatalf("unexpected second line: %s", w.lines[1])
	}
}

func TestSinkSwallowsWriteFailures(t *testing.T) {
	w := &memWriter{fail: true}
	s := New(w, "abc1234")
	// Must not panic or propagate.
	s.Infof("still fine")
}

func TestSinkDetach(t *testing.T) {
	w := &memWriter{}
	s := New(w, "abc1234")
	s.Detach()
	s.Infof("after detach")
	if len(w.lines) != 0 {
		t.Fatalf("detached sink must not persist, got %v", w.lines)
	}
}
