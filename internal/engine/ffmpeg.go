package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// commandRunner abstracts process execution for testability. Every non-empty
// output line (stdout and stderr, split on CR or LF) is passed to onLine.
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args []string, onLine func(string)) (exitStatus int, err error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command in dir and streams its output lines.
func (r *execRunner) Run(ctx context.Context, dir, name string, args []string, onLine func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return -1, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(scanLogLines)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" && onLine != nil {
				onLine(line)
			}
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	_ = pw.Close()
	<-done

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), err
		}
		return -1, err
	}
	return 0, nil
}

// scanLogLines splits on CR or LF; ffmpeg rewrites its stats line with CR.
func scanLogLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// FFmpegLoader acquires engine instances backed by an ffmpeg executable.
type FFmpegLoader struct {
	runner    commandRunner
	lookPath  func(string) (string, error)
	mkdirTemp func(dir, pattern string) (string, error)
}

// NewFFmpegLoader constructs the production loader with OS dependencies.
func NewFFmpegLoader() *FFmpegLoader {
	return &FFmpegLoader{
		runner:    &execRunner{},
		lookPath:  exec.LookPath,
		mkdirTemp: os.MkdirTemp,
	}
}

// Load resolves the executable, probes it, and creates the private scratch
// directory that serves as the instance's staging area.
func (l *FFmpegLoader) Load(ctx context.Context, locators Locators, listeners Listeners) (Instance, error) {
	bin := strings.TrimSpace(locators.Code)
	if bin == "" {
		bin = "ffmpeg"
	}

	listeners.progress(0)
	path, err := l.lookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", bin, err)
	}
	listeners.progress(0.3)

	status, err := l.runner.Run(ctx, "", path, []string{"-hide_banner", "-version"}, listeners.OnLog)
	if err != nil || status != 0 {
		if err == nil {
			err = fmt.Errorf("exit status %d", status)
		}
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	listeners.progress(0.7)

	dir, err := l.mkdirTemp(locators.Payload, "media-extractor-*")
	if err != nil {
		return nil, fmt.Errorf("create staging area: %w", err)
	}
	listeners.progress(1)

	return &ffmpegInstance{
		path:      path,
		scratch:   scratchDir{root: dir},
		runner:    l.runner,
		listeners: listeners,
	}, nil
}

// ffmpegInstance runs ffmpeg with its scratch directory as working directory,
// so staged names in command arguments resolve to staged artifacts.
type ffmpegInstance struct {
	path      string
	scratch   scratchDir
	runner    commandRunner
	listeners Listeners
}

// Exec runs ffmpeg non-interactively, overwriting existing outputs.
func (i *ffmpegInstance) Exec(ctx context.Context, args []string) (int, error) {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	tracker := newProgressTracker(args)

	return i.runner.Run(ctx, i.scratch.root, i.path, full, func(line string) {
		i.listeners.log(line)
		if f, ok := tracker.Update(line); ok {
			i.listeners.progress(f)
		}
	})
}

func (i *ffmpegInstance) WriteFile(name string, data []byte) error { return i.scratch.write(name, data) }

func (i *ffmpegInstance) ReadFile(name string) ([]byte, error) { return i.scratch.read(name) }

func (i *ffmpegInstance) DeleteFile(name string) error { return i.scratch.remove(name) }

func (i *ffmpegInstance) List() ([]string, error) { return i.scratch.list() }

// Close removes the scratch directory and anything left in it.
func (i *ffmpegInstance) Close() error { return i.scratch.destroy() }

// NewFFmpegLoaderForTests constructs a loader with injectable dependencies.
func NewFFmpegLoaderForTests(
	runner commandRunner,
	lookPath func(string) (string, error),
	mkdirTemp func(dir, pattern string) (string, error),
) *FFmpegLoader {
	return &FFmpegLoader{
		runner:    runner,
		lookPath:  lookPath,
		mkdirTemp: mkdirTemp,
	}
}
