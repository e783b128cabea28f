package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "bridge.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func drain(t *testing.T, s Stream) ([]model.Event, error) {
	t.Helper()
	var out []model.Event
	for {
		ev, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// TestCommandStreamsEvents parses NDJSON and skips noise.
func TestCommandStreamsEvents(t *testing.T) {
	script := writeScript(t, `
cat > /dev/null
echo "loading models..."
echo '{"type":"progress_update","overall_progress":50,"stage":"translate","message":"half"}'
echo '{not json'
echo '{"type":"finish","translate_result":{"mono_pdf_path":"out/a.mono.pdf","total_seconds":2.5}}'
`)
	eng := Command{Path: script, Log: quiet()}
	s, err := eng.Translate(context.Background(), Request{JobID: "a"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	defer s.Close()

	events, err := drain(t, s)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("end err = %v, want EOF", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != model.EventProgress || events[0].OverallProgress != 50 || events[0].Stage != "translate" {
		t.Fatalf("progress = %+v", events[0])
	}
	if events[1].Type != model.EventFinish || events[1].Result == nil || events[1].Result.MonoPath != "out/a.mono.pdf" {
		t.Fatalf("finish = %+v", events[1])
	}
}

// TestCommandPassesRequestAndKey checks stdin and the credential variable.
func TestCommandPassesRequestAndKey(t *testing.T) {
	script := writeScript(t, `
input=$(cat)
case "$input" in
  *'"lang_out":"zh"'*) ;;
  *) echo "bad request: $input" >&2; exit 3 ;;
esac
case "$input" in
  *sk-test*) echo "key leaked into request" >&2; exit 4 ;;
esac
printf '{"type":"error","error":"%s"}\n' "$DOCTRANS_API_KEY"
`)
	eng := Command{Path: script, Log: quiet()}
	s, err := eng.Translate(context.Background(), Request{
		JobID:      "a",
		Submission: model.Submission{SourceLang: "en", TargetLang: "zh", APIKey: "sk-test"},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	defer s.Close()

	events, err := drain(t, s)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("end err = %v", err)
	}
	if len(events) != 1 || events[0].Error != "sk-test" {
		t.Fatalf("events = %+v", events)
	}
}

// TestCommandNonZeroExit surfaces the stderr tail.
func TestCommandNonZeroExit(t *testing.T) {
	script := writeScript(t, `
cat > /dev/null
echo '{"type":"progress_update","overall_progress":10}'
echo "Traceback: model unavailable" >&2
exit 2
`)
	s, err := Command{Path: script, Log: quiet()}.Translate(context.Background(), Request{JobID: "a"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	defer s.Close()

	events, err := drain(t, s)
	if len(events) != 1 {
		t.Fatalf("events = %+v", events)
	}
	if err == nil || errors.Is(err, io.EOF) || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("err = %v", err)
	}
}

// TestCommandCancelled stops a hung engine.
func TestCommandCancelled(t *testing.T) {
	script := writeScript(t, `
cat > /dev/null
echo '{"type":"progress_update","overall_progress":1}'
exec sleep 30
`)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s, err := Command{Path: script, Log: quiet()}.Translate(ctx, Request{JobID: "a"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	defer s.Close()

	_, err = drain(t, s)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

// TestCommandNotConfigured fails fast.
func TestCommandNotConfigured(t *testing.T) {
	if _, err := (Command{}).Translate(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
}
