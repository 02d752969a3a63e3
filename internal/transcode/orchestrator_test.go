package transcode

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"media-extractor/internal/engine"
	"media-extractor/internal/engine/enginetest"
	"media-extractor/internal/pipeline"
)

// mp4Source is the head of an ISO base media file.
var mp4Source = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2\x00\x00\x00\x08free")

func newTestOrchestrator(loader *enginetest.Loader) (*Orchestrator, *engine.Handle) {
	h := engine.NewHandle(loader, engine.Locators{Code: "fake"}, nil)
	return New(h, nil), h
}

// assertNothingStaged checks the staging area holds no artifacts.
func assertNothingStaged(t *testing.T, h *engine.Handle) {
	t.Helper()
	names, err := h.Staged()
	if err != nil {
		t.Fatalf("Staged() error = %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("staged artifacts left behind: %v", names)
	}
}

// TestRunExtractAudioSimple covers audio extraction without cover or lyrics.
func TestRunExtractAudioSimple(t *testing.T) {
	loader := enginetest.NewLoader()
	o, h := newTestOrchestrator(loader)

	result, err := o.Run(context.Background(), Request{
		Spec:   pipeline.ExtractAudio{Mode: pipeline.ModeSimple},
		Source: mp4Source,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.MIMEType != "audio/mp3" {
		t.Fatalf("mime = %q, want audio/mp3", result.MIMEType)
	}
	if string(result.Bytes) != "output" {
		t.Fatalf("bytes = %q, want output", result.Bytes)
	}

	calls := loader.Instance.Calls()
	if len(calls) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(calls))
	}
	for _, arg := range calls[0] {
		if arg == "-metadata" || arg == "-disposition:v" {
			t.Fatalf("unexpected tagging argument in %q", calls[0])
		}
	}
	if argValue(calls[0], "-i") != "input.mp4" {
		t.Fatalf("input = %q, want input.mp4", argValue(calls[0], "-i"))
	}
	assertNothingStaged(t, h)
}

// TestRunExtractAudioWithLyrics covers the two-stage cover and lyrics run.
func TestRunExtractAudioWithLyrics(t *testing.T) {
	loader := enginetest.NewLoader()
	o, h := newTestOrchestrator(loader)

	result, err := o.Run(context.Background(), Request{
		Spec: pipeline.ExtractAudio{
			Mode:   pipeline.ModeTagged,
			Lyrics: "[00:00.00]hello\n[00:05.00]world",
		},
		Source: mp4Source,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.MIMEType != "audio/mp3" {
		t.Fatalf("mime = %q", result.MIMEType)
	}

	calls := loader.Instance.Calls()
	if len(calls) != 2 {
		t.Fatalf("exec calls = %d, want 2", len(calls))
	}
	if calls[0][len(calls[0])-1] != pipeline.CoverStageName {
		t.Fatalf("first stage output = %q, want cover still", calls[0][len(calls[0])-1])
	}
	if argValue(calls[0], "-vf") != "scale=500:-1" {
		t.Fatalf("cover scale = %q", argValue(calls[0], "-vf"))
	}

	second := calls[1]
	if argValue(second, "-disposition:v") != "attached_pic" {
		t.Fatalf("missing attached picture disposition: %q", second)
	}
	var lyricArgs int
	for i, arg := range second {
		if arg == "-metadata" && strings.Contains(second[i+1], `hello\n[00:05.00]world`) {
			lyricArgs++
		}
	}
	if lyricArgs != 2 {
		t.Fatalf("escaped lyric metadata args = %d, want 2 in %q", lyricArgs, second)
	}
	assertNothingStaged(t, h)
}

// TestRunPreviewDefault covers the default GIF preview.
func TestRunPreviewDefault(t *testing.T) {
	loader := enginetest.NewLoader()
	o, h := newTestOrchestrator(loader)

	result, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.MIMEType != "image/gif" {
		t.Fatalf("mime = %q, want image/gif", result.MIMEType)
	}

	args := loader.Instance.Calls()[0]
	if argValue(args, "-t") != "5" {
		t.Fatalf("duration = %q, want 5", argValue(args, "-t"))
	}
	if !strings.HasPrefix(argValue(args, "-vf"), "fps=10,scale=320:") {
		t.Fatalf("filter = %q", argValue(args, "-vf"))
	}
	if !strings.HasSuffix(args[len(args)-1], ".gif") {
		t.Fatalf("output = %q", args[len(args)-1])
	}
	assertNothingStaged(t, h)
}

// TestRunLoadsEngineBeforeStaging checks nothing is staged until the engine is ready.
func TestRunLoadsEngineBeforeStaging(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Gate = make(chan struct{})
	o, h := newTestOrchestrator(loader)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.State() != engine.StateInitializing {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want initializing", h.State())
		}
		time.Sleep(time.Millisecond)
	}

	if names, _ := loader.Instance.List(); len(names) != 0 {
		t.Fatalf("staged before ready: %v", names)
	}
	if calls := loader.Instance.Calls(); len(calls) != 0 {
		t.Fatalf("executed before ready: %v", calls)
	}

	close(loader.Gate)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if loader.Loads() != 1 || len(loader.Instance.Calls()) != 1 {
		t.Fatalf("loads = %d, calls = %d", loader.Loads(), len(loader.Instance.Calls()))
	}
}

// TestRunInvalidSpecNeverTouchesEngine checks validation happens first.
func TestRunInvalidSpecNeverTouchesEngine(t *testing.T) {
	loader := enginetest.NewLoader()
	o, h := newTestOrchestrator(loader)

	tests := []Request{
		{Spec: pipeline.Preview{MaxDurationSeconds: 0, FPS: 10, Width: 320}, Source: mp4Source},
		{Spec: pipeline.Preview{MaxDurationSeconds: -3, FPS: 10, Width: 320}, Source: mp4Source},
		{Spec: pipeline.DefaultPreview()},
		{Source: mp4Source},
	}
	for i, req := range tests {
		_, err := o.Run(context.Background(), req)
		var specErr *pipeline.InvalidSpecError
		if !errors.As(err, &specErr) {
			t.Fatalf("case %d: error = %v, want *pipeline.InvalidSpecError", i, err)
		}
		if Classify(err) != CategoryInvalidInput {
			t.Fatalf("case %d: category = %q", i, Classify(err))
		}
	}

	if loader.Loads() != 0 {
		t.Fatalf("loads = %d, want 0", loader.Loads())
	}
	if h.State() != engine.StateUninitialized {
		t.Fatalf("state = %s, want uninitialized", h.State())
	}
}

// TestRunEngineInitFailure checks init errors propagate unchanged.
func TestRunEngineInitFailure(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Err = errors.New("wasm payload unreachable")
	o, _ := newTestOrchestrator(loader)

	_, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	var initErr *engine.InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("error = %v, want *engine.InitError", err)
	}
	if Classify(err) != CategoryEngineUnavailable {
		t.Fatalf("category = %q", Classify(err))
	}

	_, err = o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	if !errors.As(err, &initErr) {
		t.Fatalf("second run error = %v, want *engine.InitError", err)
	}
	if loader.Loads() != 1 {
		t.Fatalf("loads = %d, want 1", loader.Loads())
	}
}

// TestRunStageFailureCleansUp checks a failed second stage aborts and cleans up.
func TestRunStageFailureCleansUp(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Instance.OnExec = func(ctx context.Context, inst *enginetest.Instance, args []string) (int, error) {
		out := args[len(args)-1]
		if out == pipeline.CoverStageName {
			inst.Put(out, []byte("jpeg"))
			return 0, nil
		}
		inst.Put(out, []byte("partial"))
		inst.Log("Conversion failed!")
		return 1, errors.New("exit status 1")
	}
	o, h := newTestOrchestrator(loader)

	_, err := o.Run(context.Background(), Request{
		Spec:   pipeline.ExtractAudio{Mode: pipeline.ModeTagged},
		Source: mp4Source,
	})
	var execErr *engine.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *engine.ExecutionError", err)
	}
	if execErr.ExitStatus != 1 || len(execErr.LastLogLines) == 0 {
		t.Fatalf("execution error = %+v", execErr)
	}
	if !strings.HasPrefix(err.Error(), "audio stage:") {
		t.Fatalf("error = %q, want stage prefix", err.Error())
	}
	assertNothingStaged(t, h)
}

// TestRunFirstStageFailureSkipsRest checks later stages never start.
func TestRunFirstStageFailureSkipsRest(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Instance.OnExec = func(context.Context, *enginetest.Instance, []string) (int, error) {
		return 1, nil
	}
	o, h := newTestOrchestrator(loader)

	_, err := o.Run(context.Background(), Request{
		Spec:   pipeline.ExtractAudio{Mode: pipeline.ModeTagged, Lyrics: "la"},
		Source: mp4Source,
	})
	if Classify(err) != CategoryTranscodeFailed {
		t.Fatalf("category = %q, err = %v", Classify(err), err)
	}
	if calls := loader.Instance.Calls(); len(calls) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(calls))
	}
	assertNothingStaged(t, h)
}

// TestRunMissingOutputCleansUp checks read failures surface as staging errors.
func TestRunMissingOutputCleansUp(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Instance.OnExec = func(context.Context, *enginetest.Instance, []string) (int, error) {
		return 0, nil
	}
	o, h := newTestOrchestrator(loader)

	_, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	var stagingErr *engine.StagingError
	if !errors.As(err, &stagingErr) {
		t.Fatalf("error = %v, want *engine.StagingError", err)
	}
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	assertNothingStaged(t, h)
}

// TestRunEmptyOutput checks a zero-byte output is not returned as success.
func TestRunEmptyOutput(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Instance.OnExec = func(ctx context.Context, inst *enginetest.Instance, args []string) (int, error) {
		inst.Put(args[len(args)-1], nil)
		return 0, nil
	}
	o, h := newTestOrchestrator(loader)

	_, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("error = %v, want ErrEmptyOutput", err)
	}
	assertNothingStaged(t, h)
}

// TestRunCleanupFailureDoesNotMaskOutcome checks cleanup errors are only logged.
func TestRunCleanupFailureDoesNotMaskOutcome(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Instance.FailDelete("input.mp4", errors.New("device busy"))
	o, _ := newTestOrchestrator(loader)

	result, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	if err != nil {
		t.Fatalf("Run() error = %v, want success despite cleanup failure", err)
	}
	if result.MIMEType != "image/gif" {
		t.Fatalf("mime = %q", result.MIMEType)
	}

	loader.Instance.OnExec = func(context.Context, *enginetest.Instance, []string) (int, error) {
		return 2, errors.New("exit status 2")
	}
	_, err = o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	var execErr *engine.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *engine.ExecutionError", err)
	}
}

// TestRunWriteFailure checks staging write errors propagate.
func TestRunWriteFailure(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Instance.FailWrite("input.mp4", errors.New("quota exceeded"))
	o, h := newTestOrchestrator(loader)

	_, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
	if Classify(err) != CategoryStagingFailed {
		t.Fatalf("category = %q, err = %v", Classify(err), err)
	}
	if len(loader.Instance.Calls()) != 0 {
		t.Fatal("no command may run after a failed write")
	}
	assertNothingStaged(t, h)
}

// TestRunRejectsConcurrentRun checks the busy policy.
func TestRunRejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	loader := enginetest.NewLoader()
	loader.Instance.OnExec = func(ctx context.Context, inst *enginetest.Instance, args []string) (int, error) {
		close(entered)
		<-release
		inst.Put(args[len(args)-1], []byte("gif"))
		return 0, nil
	}
	o, h := newTestOrchestrator(loader)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), Request{Spec: pipeline.DefaultPreview(), Source: mp4Source})
		done <- err
	}()
	<-entered

	_, err := o.Run(context.Background(), Request{Spec: pipeline.ExtractAudio{}, Source: mp4Source})
	var busyErr *BusyError
	if !errors.As(err, &busyErr) {
		t.Fatalf("error = %v, want *BusyError", err)
	}
	if Classify(err) != CategoryBusy {
		t.Fatalf("category = %q", Classify(err))
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if calls := loader.Instance.Calls(); len(calls) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(calls))
	}
	assertNothingStaged(t, h)

	loader.Instance.OnExec = nil
	if _, err := o.Run(context.Background(), Request{Spec: pipeline.ExtractAudio{}, Source: mp4Source}); err != nil {
		t.Fatalf("Run() after release error = %v", err)
	}
}

// TestRunReportsMonotonicProgressAndLogs checks event forwarding.
func TestRunReportsMonotonicProgressAndLogs(t *testing.T) {
	loader := enginetest.NewLoader()
	loader.Instance.OnExec = func(ctx context.Context, inst *enginetest.Instance, args []string) (int, error) {
		inst.Log("frame=1")
		inst.Progress(0.5)
		inst.Progress(0.2)
		inst.Progress(1)
		inst.Put(args[len(args)-1], []byte("data"))
		return 0, nil
	}
	o, _ := newTestOrchestrator(loader)

	var mu sync.Mutex
	var progress []float64
	var logs []string
	_, err := o.Run(context.Background(), Request{
		Spec:       pipeline.ExtractAudio{Mode: pipeline.ModeTagged},
		Source:     mp4Source,
		OnProgress: func(f float64) { mu.Lock(); progress = append(progress, f); mu.Unlock() },
		OnLog:      func(text string) { mu.Lock(); logs = append(logs, text); mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("progress = %v, want %v", progress, want)
		}
	}

	frames := 0
	for _, line := range logs {
		if line == "frame=1" {
			frames++
		}
	}
	if frames != 2 {
		t.Fatalf("logs = %v, want frame=1 from both stages", logs)
	}
}

func TestInputName(t *testing.T) {
	tests := []struct {
		name   string
		source []byte
		want   string
	}{
		{"mp4", mp4Source, "input.mp4"},
		{"mp3", []byte("ID3\x03\x00\x00\x00\x00\x00\x00"), "input.mp3"},
		{"text falls back", []byte("just some text"), "input.mp4"},
		{"unknown falls back", []byte{0x01, 0x02, 0x03}, "input.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InputName(tt.source); got != tt.want {
				t.Fatalf("InputName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageDistinguishesCategories(t *testing.T) {
	errs := []error{
		&engine.InitError{Err: errors.New("x")},
		&pipeline.InvalidSpecError{Pipeline: "preview", Field: "duration", Reason: "must be positive"},
		&engine.ExecutionError{ExitStatus: 1},
		&engine.StagingError{Op: "read", Name: "output.gif", Err: engine.ErrNotFound},
		&BusyError{Pipeline: "preview"},
		context.Canceled,
	}

	seen := make(map[string]bool)
	for _, err := range errs {
		msg := Message(err)
		if msg == "" || seen[msg] {
			t.Fatalf("message for %v = %q is empty or duplicated", err, msg)
		}
		seen[msg] = true
	}
	if Message(nil) != "" {
		t.Fatal("nil error must have empty message")
	}
}

// argValue returns the token following the first occurrence of flag.
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
