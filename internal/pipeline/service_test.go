package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codelens-ci/internal/config"
	"codelens-ci/internal/llm"
	"codelens-ci/internal/models"
)

func turnContent(s string) llm.Turn {
	return llm.Turn{Content: s}
}

type transition struct {
	status models.JobStatus
	report *string
}

type fakeLedger struct {
	transitions []transition
}

func (f *fakeLedger) TransitionJob(_ context.Context, _ string, to models.JobStatus, report *string) error {
	f.transitions = append(f.transitions, transition{status: to, report: report})
	return nil
}

type fakeCloner struct {
	dir       string
	err       error
	cleanedUp []string
	repoURL   string
	commitSHA string
}

func (f *fakeCloner) Checkout(_ context.Context, repoURL, commitSHA string) (string, error) {
	f.repoURL, f.commitSHA = repoURL, commitSHA
	if f.err != nil {
		return "", f.err
	}
	return f.dir, nil
}

func (f *fakeCloner) Cleanup(workDir string) {
	f.cleanedUp = append(f.cleanedUp, workDir)
}

type fakeUploader struct {
	jobID string
	body  []byte
}

func (f *fakeUploader) UploadReport(_ context.Context, jobID string, report []byte) (string, error) {
	f.jobID, f.body = jobID, report
	return "s3://ci-reports/reports/" + jobID + ".md", nil
}

func testJob() models.Job {
	return models.Job{
		ID:        "abc1234",
		RepoURL:   "https://example.com/acme/widgets.git",
		CommitSHA: "abc1234def5678",
		Pusher:    "octocat",
		Branch:    "main",
		Status:    models.StatusQueued,
	}
}

func serviceConfig() config.Config {
	cfg := config.Config{}
	cfg.ReportFileName = "ci_report.md"
	cfg.SandboxDefaultImage = "python:3.11-slim"
	cfg.PipelineMaxTurns = 15
	return cfg
}

func TestExecuteSuccess(t *testing.T) {
	report := "# CI Report\n\nThe repository builds cleanly and its test suite passes on this commit without findings."
	reasoner := &scriptedReasoner{t: t, steps: []step{
		{wantSpeaker: roleScanner, turn: turnContent("Python project.")},
		{wantSpeaker: roleBuilder, turn: turnContent("Build ok.")},
		{wantSpeaker: roleTester, turn: turnContent("Tests ok.")},
		{wantSpeaker: roleReporter, turn: turnContent(report + "\nTERMINATE")},
	}}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ledger := &fakeLedger{}
	cloner := &fakeCloner{dir: dir}
	uploader := &fakeUploader{}
	svc := NewService(serviceConfig(), ledger, &memLog{}, cloner, &stubRuntime{}, reasoner, uploader)

	svc.Execute(context.Background(), testJob())

	if len(ledger.transitions) != 2 {
		t.Fatalf("transitions = %+v, want running then success", ledger.transitions)
	}
	if ledger.transitions[0].status != models.StatusRunning || ledger.transitions[0].report != nil {
		t.Errorf("first transition = %+v, want running with no report", ledger.transitions[0])
	}
	final := ledger.transitions[1]
	if final.status != models.StatusSuccess || final.report == nil || *final.report != report {
		t.Errorf("final transition = %+v", final)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ci_report.md"))
	if err != nil || string(data) != report {
		t.Errorf("report file: %v %q", err, data)
	}
	if uploader.jobID != "abc1234" || string(uploader.body) != report {
		t.Errorf("upload = %q %q", uploader.jobID, uploader.body)
	}
	if len(cloner.cleanedUp) != 1 || cloner.cleanedUp[0] != dir {
		t.Errorf("checkout was not cleaned up: %v", cloner.cleanedUp)
	}
	if cloner.repoURL != "https://example.com/acme/widgets.git" || cloner.commitSHA != "abc1234def5678" {
		t.Errorf("checkout used %q @ %q", cloner.repoURL, cloner.commitSHA)
	}
}

func TestExecuteCheckoutFailure(t *testing.T) {
	ledger := &fakeLedger{}
	cloner := &fakeCloner{err: errors.New("repository not found")}
	reasoner := &scriptedReasoner{t: t}
	svc := NewService(serviceConfig(), ledger, &memLog{}, cloner, &stubRuntime{}, reasoner, nil)

	svc.Execute(context.Background(), testJob())

	if len(ledger.transitions) != 2 {
		t.Fatalf("transitions = %+v", ledger.transitions)
	}
	final := ledger.transitions[1]
	if final.status != models.StatusFailed || final.report == nil {
		t.Fatalf("final transition = %+v, want failed with report", final)
	}
	if !strings.Contains(*final.report, "Critical failure") || !strings.Contains(*final.report, "repository not found") {
		t.Errorf("failure report = %q", *final.report)
	}
	if reasoner.calls != 0 {
		t.Errorf("no conversation should run after a failed checkout, got %d turns", reasoner.calls)
	}
}

func TestExecuteConversationInitFailure(t *testing.T) {
	ledger := &fakeLedger{}
	reasoner := &scriptedReasoner{t: t, steps: []step{
		{wantSpeaker: roleScanner, err: errors.New("api quota exhausted")},
	}}
	svc := NewService(serviceConfig(), ledger, &memLog{}, &fakeCloner{dir: t.TempDir()}, &stubRuntime{}, reasoner, nil)

	svc.Execute(context.Background(), testJob())

	final := ledger.transitions[len(ledger.transitions)-1]
	if final.status != models.StatusFailed || final.report == nil {
		t.Fatalf("final transition = %+v, want failed with report", final)
	}
	if !strings.Contains(*final.report, "api quota exhausted") {
		t.Errorf("failure report = %q", *final.report)
	}
}
