package sandbox

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"codelens-ci/internal/logging"
	"codelens-ci/internal/telemetry"
)

// Mount points inside the command container. Host mode binds the checkout
// directly; relay mode binds the named shared volume and descends into it.
const (
	hostMountPoint  = "/workspace"
	relayMountPoint = "/workspace_mount"
)

// Config captures how sandbox containers are launched.
type Config struct {
	DefaultImage   string
	RelayMode      bool
	SharedVolume   string
	WorkspaceBase  string
	CommandTimeout time.Duration
}

// Runtime is the container transport boundary. Anything that can mount one
// filesystem root, run one shell command, and hand back demuxed output
// satisfies it; production uses the Docker Engine API.
type Runtime interface {
	RunContainer(ctx context.Context, spec ContainerSpec) (Result, error)
}

// ContainerSpec describes exactly one container invocation.
type ContainerSpec struct {
	Image      string
	Command    string
	Binds      []string
	WorkingDir string
}

// Result carries the demuxed output of a finished command. A non-zero
// ExitCode is not an error from the executor's point of view; pipeline roles
// read the output and decide what to do next.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int64
}

// Session runs commands for a single job. The image is session state, never
// shared between jobs, so concurrent pipelines picking different images
// cannot clobber one another.
type Session struct {
	runtime Runtime
	cfg     Config
	image   string
}

// NewSession creates a per-job executor starting from the configured default
// image.
func NewSession(runtime Runtime, cfg Config) *Session {
	image := cfg.DefaultImage
	if image == "" {
		image = "python:3.11-slim"
	}
	return &Session{runtime: runtime, cfg: cfg, image: image}
}

// SetImage switches the execution environment used by subsequent Run calls.
func (s *Session) SetImage(name string) {
	if strings.TrimSpace(name) != "" {
		s.image = strings.TrimSpace(name)
	}
}

// Image returns the currently selected execution environment.
func (s *Session) Image() string {
	return s.image
}

// Run executes one shell command against workDir and blocks until it exits.
// Command failure is reported through the result, not the error; the error is
// reserved for the container runtime itself being unusable.
func (s *Session) Run(ctx context.Context, command, workDir string) (Result, error) {
	binds, containerDir, mode := translateWorkDir(s.cfg, workDir)
	if mode == mountNone && workDir != "" {
		logging.L().WithField("work_dir", workDir).Warn("sandbox work dir not mountable, running bare container")
	}

	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}

	telemetry.SandboxCommands.Inc()
	return s.runtime.RunContainer(ctx, ContainerSpec{
		Image:      s.image,
		Command:    command,
		Binds:      binds,
		WorkingDir: containerDir,
	})
}

type mountMode int

const (
	mountNone mountMode = iota
	mountHost
	mountRelay
)

// translateWorkDir picks the mounting topology for a work dir.
//
// Relay mode applies when this process itself runs inside a container: the
// host engine cannot resolve paths in our filesystem namespace, only the
// named shared volume, so the sibling container mounts the volume and starts
// in the work dir's path relative to the volume base. Otherwise the host path
// is bound directly. A missing dir yields a bare container.
func translateWorkDir(cfg Config, workDir string) (binds []string, containerDir string, mode mountMode) {
	if workDir == "" {
		return nil, "", mountNone
	}

	if cfg.RelayMode && cfg.SharedVolume != "" && isUnder(cfg.WorkspaceBase, workDir) {
		rel, err := filepath.Rel(cfg.WorkspaceBase, workDir)
		if err == nil {
			return []string{cfg.SharedVolume + ":" + relayMountPoint},
				path.Join(relayMountPoint, filepath.ToSlash(rel)),
				mountRelay
		}
	}

	if info, err := os.Stat(workDir); err == nil && info.IsDir() {
		abs, err := filepath.Abs(workDir)
		if err == nil {
			return []string{abs + ":" + hostMountPoint}, hostMountPoint, mountHost
		}
	}

	return nil, "", mountNone
}

func isUnder(base, dir string) bool {
	if base == "" {
		return false
	}
	base = strings.TrimRight(base, "/")
	return dir == base || strings.HasPrefix(dir, base+"/")
}
