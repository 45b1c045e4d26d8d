// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/invowk/slsbundle/internal/core/lifecycle"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"
)

const (
	// DefaultDebounce is the restart debounce window.
	DefaultDebounce = 1500 * time.Millisecond
	// DefaultStopTimeout is the SIGTERM grace period before SIGKILL.
	DefaultStopTimeout = 5 * time.Second
)

var (
	// ErrEmptyCommand is returned when the dev command has no words.
	ErrEmptyCommand = errors.New("empty dev command")
	// ErrNotStarted is returned by Restart before Start.
	ErrNotStarted = errors.New("supervisor not started")
	// ErrStopped is returned by Start and Restart after Stop.
	ErrStopped = errors.New("supervisor stopped")
)

type (
	// Config holds the parameters for a Supervisor.
	Config struct {
		// Command is the child command line. It is split into words with
		// POSIX shell rules and $VAR expansion against the child environment.
		Command string
		// Dir is the child working directory.
		Dir string
		// EnvFiles are dotenv files merged into the child environment.
		EnvFiles []string
		// Env are extra child variables, applied after the dotenv files.
		Env map[string]string
		// Debounce is the restart debounce window (DefaultDebounce when zero).
		Debounce time.Duration
		// StopTimeout is the SIGTERM grace period (DefaultStopTimeout when zero).
		StopTimeout time.Duration
		// Launcher starts children (ExecLauncher when nil).
		Launcher Launcher
		// Stdout and Stderr receive the child output (os.Stdout/os.Stderr when nil).
		Stdout io.Writer
		Stderr io.Writer
		// Logger receives lifecycle messages.
		Logger *log.Logger
	}

	// Supervisor keeps at most one child process alive and restarts it on
	// debounced change notifications.
	Supervisor struct {
		cfg      Config
		args     []string
		env      []string
		launcher Launcher
		logger   *log.Logger

		state    atomic.Int32
		restarts atomic.Int64

		// restartMu serializes spawn, restart and stop.
		restartMu sync.Mutex

		mu      sync.Mutex
		child   Process
		exited  chan struct{}
		timer   *time.Timer
		baseCtx context.Context
		started bool
		stopped bool
	}
)

// New prepares a Supervisor: the environment is assembled and the command
// split into words, so configuration errors surface before anything runs.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	env, missing, err := childEnv(os.Environ(), cfg.EnvFiles, cfg.Env)
	if err != nil {
		return nil, err
	}
	for _, file := range missing {
		logger.Warn("env file not found", "path", file)
	}

	args, err := shell.Fields(cfg.Command, lookup(env))
	if err != nil {
		return nil, fmt.Errorf("parse dev command %q: %w", cfg.Command, err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}

	s := &Supervisor{
		cfg:      cfg,
		args:     args,
		env:      env,
		launcher: launcher,
		logger:   logger,
	}
	s.state.Store(int32(lifecycle.StateIdle))
	return s, nil
}

// Args returns the child command words.
func (s *Supervisor) Args() []string { return append([]string(nil), s.args...) }

// Env returns the child environment.
func (s *Supervisor) Env() []string { return append([]string(nil), s.env...) }

// State returns the current supervisor state.
func (s *Supervisor) State() lifecycle.State { return lifecycle.State(s.state.Load()) }

// Restarts returns how many restarts have completed.
func (s *Supervisor) Restarts() int { return int(s.restarts.Load()) }

// Start spawns the first child. ctx bounds later debounced restarts too.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	return s.spawn(ctx)
}

// NotifyChange schedules a restart once no further notification arrives for
// the debounce window. It is a no-op before Start and after Stop.
func (s *Supervisor) NotifyChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.Debounce, s.fire)
		return
	}
	s.timer.Reset(s.cfg.Debounce)
}

func (s *Supervisor) fire() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := s.Restart(ctx); err != nil && !errors.Is(err, ErrStopped) {
		s.logger.Error("restart failed", "err", err)
	}
}

// Restart stops the running child, waits for it to exit and spawns a
// replacement.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	s.mu.Lock()
	started, stopped := s.started, s.stopped
	s.mu.Unlock()
	switch {
	case stopped:
		return ErrStopped
	case !started:
		return ErrNotStarted
	}

	s.stopChild()
	if err := s.spawn(ctx); err != nil {
		return err
	}
	s.restarts.Add(1)
	s.logger.Info("restarted dev process", "restarts", s.restarts.Load())
	return nil
}

// Stop cancels pending restarts and stops the child. ctx bounds the wait for
// an in-flight restart.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.restartMu.Lock()
		defer s.restartMu.Unlock()
		s.stopChild()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping dev process: %w", ctx.Err())
	}
}

// spawn starts a child. Must be called with restartMu held and no live child.
func (s *Supervisor) spawn(ctx context.Context) error {
	if !s.advance(lifecycle.StateIdle) {
		return fmt.Errorf("start dev process: supervisor is %s", s.State())
	}
	p, err := s.launcher.Launch(ctx, Command{
		Args:   s.args,
		Env:    s.env,
		Dir:    s.cfg.Dir,
		Stdout: s.cfg.Stdout,
		Stderr: s.cfg.Stderr,
	})
	if err != nil {
		s.state.Store(int32(lifecycle.StateIdle))
		return fmt.Errorf("start dev process %q: %w", s.args[0], err)
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.child = p
	s.exited = exited
	s.advance(lifecycle.StateStarting)
	s.mu.Unlock()
	s.logger.Info("started dev process", "pid", p.Pid(), "cmd", s.args)

	go s.reap(p, exited)
	return nil
}

// reap waits for p to exit. Any exit leaves the supervisor ready to spawn.
func (s *Supervisor) reap(p Process, exited chan struct{}) {
	err := p.Wait()

	s.mu.Lock()
	expected := s.State() == lifecycle.StateStopping
	if s.child == p {
		s.child = nil
		s.state.Store(int32(lifecycle.StateIdle))
	}
	s.mu.Unlock()
	close(exited)

	if !expected {
		s.logger.Info("dev process exited", "pid", p.Pid(), "status", exitStatus(err))
	}
}

// stopChild terminates the live child and waits for it to exit, killing it
// after the stop timeout. Must be called with restartMu held.
func (s *Supervisor) stopChild() {
	s.mu.Lock()
	p, exited := s.child, s.exited
	if p == nil || !s.State().HasChild() {
		s.mu.Unlock()
		return
	}
	s.advance(lifecycle.StateRunning)
	s.mu.Unlock()

	if err := p.Terminate(); err != nil {
		s.logger.Debug("terminate dev process", "pid", p.Pid(), "err", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		s.logger.Warn("dev process did not exit, killing", "pid", p.Pid(), "timeout", s.cfg.StopTimeout)
		if err := p.Kill(); err != nil {
			s.logger.Debug("kill dev process", "pid", p.Pid(), "err", err)
		}
		<-exited
	}
}

// advance moves the state from `from` to its successor. It reports false when
// the supervisor is in another state.
func (s *Supervisor) advance(from lifecycle.State) bool {
	return s.state.CompareAndSwap(int32(from), int32(from.Next()))
}

func exitStatus(err error) string {
	if err == nil {
		return "exit 0"
	}
	return err.Error()
}
