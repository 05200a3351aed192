package sandbox

import (
	"context"
	"path/filepath"
	"testing"
)

func TestTranslateWorkDirHostMode(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{}

	binds, containerDir, mode := translateWorkDir(cfg, dir)
	if mode != mountHost {
		t.Fatalf("expected host mode, got %v", mode)
	}
	abs, _ := filepath.Abs(dir)
	if len(binds) != 1 || binds[0] != abs+":"+hostMountPoint {
		t.Fatalf("unexpected binds: %v", binds)
	}
	if containerDir != hostMountPoint {
		t.Fatalf("expected working dir %s, got %s", hostMountPoint, containerDir)
	}
}

func TestTranslateWorkDirRelayMode(t *testing.T) {
	cfg := Config{
		RelayMode:     true,
		SharedVolume:  "ci_workspaces",
		WorkspaceBase: "/workspace_data",
	}

	binds, containerDir, mode := translateWorkDir(cfg, "/workspace_data/alpha/beta")
	if mode != mountRelay {
		t.Fatalf("expected relay mode, got %v", mode)
	}
	if len(binds) != 1 || binds[0] != "ci_workspaces:"+relayMountPoint {
		t.Fatalf("expected named volume bind, got %v", binds)
	}
	if containerDir != relayMountPoint+"/alpha/beta" {
		t.Fatalf("expected %s/alpha/beta, got %s", relayMountPoint, containerDir)
	}
}

func TestTranslateWorkDirRelayRequiresBase(t *testing.T) {
	cfg := Config{
		RelayMode:     true,
		SharedVolume:  "ci_workspaces",
		WorkspaceBase: "/workspace_data",
	}

	// Outside the shared base and nonexistent on the host: bare container.
	_, _, mode := translateWorkDir(cfg, "/elsewhere/checkout")
	if mode != mountNone {
		t.Fatalf("expected no mount, got %v", mode)
	}
}

func TestTranslateWorkDirMissing(t *testing.T) {
	_, _, mode := translateWorkDir(Config{}, "/does/not/exist")
	if mode != mountNone {
		t.Fatalf("expected no mount for missing dir, got %v", mode)
	}
	_, _, mode = translateWorkDir(Config{}, "")
	if mode != mountNone {
		t.Fatalf("expected no mount for empty dir, got %v", mode)
	}
}

type recordingRuntime struct {
	specs []ContainerSpec
	out   Result
}

func (r *recordingRuntime) RunContainer(_ context.Context, spec ContainerSpec) (Result, error) {
	r.specs = append(r.specs, spec)
	return r.out, nil
}

func TestSessionImageScoping(t *testing.T) {
	rt := &recordingRuntime{out: Result{Stdout: "ok\n"}}
	cfg := Config{DefaultImage: "python:3.11-slim"}

	a := NewSession(rt, cfg)
	b := NewSession(rt, cfg)
	a.SetImage("maven:3.8-openjdk-17")

	if b.Image() != "python:3.11-slim" {
		t.Fatalf("image change leaked across sessions: %s", b.Image())
	}

	res, err := a.Run(context.Background(), "mvn -v", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "ok\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if len(rt.specs) != 1 || rt.specs[0].Image != "maven:3.8-openjdk-17" {
		t.Fatalf("expected session image used, got %+v", rt.specs)
	}
}

func TestSessionSetImageIgnoresBlank(t *testing.T) {
	s := NewSession(&recordingRuntime{}, Config{DefaultImage: "python:3.11-slim"})
	s.SetImage("   ")
	if s.Image() != "python:3.11-slim" {
		t.Fatalf("blank image should be ignored, got %s", s.Image())
	}
}
