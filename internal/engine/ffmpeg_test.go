package engine

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner simulates command execution order and outcomes.
type fakeRunner struct {
	run func(ctx context.Context, dir, name string, args []string, onLine func(string)) (int, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, dir, name string, args []string, onLine func(string)) (int, error) {
	if f.run == nil {
		return 0, nil
	}
	return f.run(ctx, dir, name, args, onLine)
}

func emit(onLine func(string), lines ...string) {
	if onLine == nil {
		return
	}
	for _, line := range lines {
		onLine(line)
	}
}

// TestFFmpegLoaderLoadsAndExecutes checks probe, scratch staging and progress.
func TestFFmpegLoaderLoadsAndExecutes(t *testing.T) {
	root := t.TempDir()
	var calls [][]string
	var dirs []string
	runner := &fakeRunner{run: func(ctx context.Context, dir, name string, args []string, onLine func(string)) (int, error) {
		if name != "/opt/bin/ffmpeg" {
			t.Fatalf("command name = %q", name)
		}
		calls = append(calls, args)
		dirs = append(dirs, dir)
		if hasArg(args, "-version") {
			emit(onLine, "ffmpeg version 6.1")
			return 0, nil
		}

		if _, err := os.Stat(filepath.Join(dir, "input.mp4")); err != nil {
			t.Fatalf("staged input not visible to command: %v", err)
		}
		emit(onLine,
			"Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s",
			"size=  12kB time=00:00:02.50 bitrate= 39.3kbits/s speed=5x",
			"size=  40kB time=00:00:05.00 bitrate= 65.5kbits/s speed=5x",
		)
		if err := os.WriteFile(filepath.Join(dir, args[len(args)-1]), []byte("gif"), 0o600); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return 0, nil
	}}

	loader := NewFFmpegLoaderForTests(
		runner,
		func(name string) (string, error) { return "/opt/bin/" + name, nil },
		os.MkdirTemp,
	)

	var logs []string
	var progress []float64
	inst, err := loader.Load(context.Background(), Locators{Payload: root}, Listeners{
		OnLog:      func(text string) { logs = append(logs, text) },
		OnProgress: func(f float64) { progress = append(progress, f) },
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 1 {
		t.Fatalf("load progress = %v, want to end at 1", progress)
	}

	if err := inst.WriteFile("input.mp4", []byte("video")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	progress = nil
	status, err := inst.Exec(context.Background(), []string{"-ss", "0", "-t", "5", "-i", "input.mp4", "output.gif"})
	if err != nil || status != 0 {
		t.Fatalf("Exec() = %d, %v", status, err)
	}

	execArgs := calls[len(calls)-1]
	if strings.Join(execArgs[:3], " ") != "-hide_banner -nostdin -y" {
		t.Fatalf("exec args prefix = %v", execArgs)
	}
	if filepath.Dir(dirs[len(dirs)-1]) != root {
		t.Fatalf("exec dir = %q, want under %q", dirs[len(dirs)-1], root)
	}
	if len(progress) != 2 || progress[0] != 0.5 || progress[1] != 1 {
		t.Fatalf("exec progress = %v, want [0.5 1] (capped by -t 5)", progress)
	}
	if len(logs) < 4 {
		t.Fatalf("logs = %v, want probe and exec lines", logs)
	}

	out, err := inst.ReadFile("output.gif")
	if err != nil || string(out) != "gif" {
		t.Fatalf("ReadFile() = %q, %v", out, err)
	}

	if err := inst.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(dirs[len(dirs)-1]); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected scratch dir removed, stat err = %v", err)
	}
}

// TestFFmpegLoaderMissingBinary checks lookup failure surfaces from Load.
func TestFFmpegLoaderMissingBinary(t *testing.T) {
	loader := NewFFmpegLoaderForTests(
		&fakeRunner{},
		func(string) (string, error) { return "", errors.New("executable file not found in $PATH") },
		os.MkdirTemp,
	)

	if _, err := loader.Load(context.Background(), Locators{Code: "ffmpeg"}, Listeners{}); err == nil {
		t.Fatal("expected error")
	}
}

// TestFFmpegLoaderProbeFailure checks a broken binary is rejected.
func TestFFmpegLoaderProbeFailure(t *testing.T) {
	loader := NewFFmpegLoaderForTests(
		&fakeRunner{run: func(context.Context, string, string, []string, func(string)) (int, error) {
			return 127, nil
		}},
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		func(string, string) (string, error) {
			t.Fatal("scratch dir must not be created when probe fails")
			return "", nil
		},
	)

	_, err := loader.Load(context.Background(), Locators{}, Listeners{})
	if err == nil || !strings.Contains(err.Error(), "exit status 127") {
		t.Fatalf("Load() error = %v, want probe exit status", err)
	}
}

// TestScratchDirRejectsEscapingNames checks staging names stay inside root.
func TestScratchDirRejectsEscapingNames(t *testing.T) {
	s := scratchDir{root: t.TempDir()}
	for _, name := range []string{"", ".", "..", "../x", "a/b", `a\b`} {
		if err := s.write(name, []byte("x")); err == nil {
			t.Errorf("write(%q) succeeded, want error", name)
		}
	}
}

// TestScratchDirMissingArtifacts checks not-found and idempotent removal.
func TestScratchDirMissingArtifacts(t *testing.T) {
	s := scratchDir{root: t.TempDir()}

	if _, err := s.read("nope.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read() error = %v, want ErrNotFound", err)
	}
	if err := s.remove("nope.mp3"); err != nil {
		t.Fatalf("remove() error = %v", err)
	}

	names, err := s.list()
	if err != nil || len(names) != 0 {
		t.Fatalf("list() = %v, %v, want empty", names, err)
	}
}

func TestScanLogLinesSplitsCarriageReturns(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("a\rb\r\nc\nd"))
	scanner.Split(scanLogLines)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	want := []string{"a", "b", "", "c", "d"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
}

func TestProgressTracker(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		lines []string
		want  []float64
	}{
		{
			name:  "full duration",
			lines: []string{"Duration: 00:01:40.00, start: 0", "time=00:00:25.00", "time=00:00:50.00"},
			want:  []float64{0.25, 0.5},
		},
		{
			name:  "limited by -t",
			args:  []string{"-t", "4"},
			lines: []string{"Duration: 00:00:10.00", "time=00:00:02.00", "time=00:00:08.00"},
			want:  []float64{0.5, 1},
		},
		{
			name:  "never decreases",
			lines: []string{"Duration: 00:00:10.00", "time=00:00:06.00", "time=00:00:03.00"},
			want:  []float64{0.6, 0.6},
		},
		{
			name:  "time before duration ignored",
			lines: []string{"time=00:00:01.00", "Duration: N/A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProgressTracker(tt.args)
			var got []float64
			for _, line := range tt.lines {
				if f, ok := p.Update(line); ok {
					got = append(got, f)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("fractions = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("fractions = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// hasArg checks if a flag-like argument is present in args.
func hasArg(args []string, target string) bool {
	for _, arg := range args {
		if arg == target {
			return true
		}
	}
	return false
}
