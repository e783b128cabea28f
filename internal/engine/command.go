package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// APIKeyEnv carries the model credential to the engine process.
const APIKeyEnv = "DOCTRANS_API_KEY"

const stderrTail = 4 << 10

// Command runs an external bridge process per job. The request is written to
// its stdin as JSON and every stdout line holding a JSON object with a
// "type" field is one event.
type Command struct {
	Path string
	Args []string
	Env  []string
	Log  logrus.FieldLogger
}

type commandRequest struct {
	JobID      string   `json:"job_id"`
	InputFile  string   `json:"input_file"`
	OutputDir  string   `json:"output_dir"`
	Glossaries []string `json:"glossaries"`
	LangIn     string   `json:"lang_in"`
	LangOut    string   `json:"lang_out"`
	Model      string   `json:"model"`
	BaseURL    string   `json:"base_url,omitempty"`
	Pages      string   `json:"pages,omitempty"`
	QPS        int      `json:"qps,omitempty"`
	NoMono     bool     `json:"no_mono"`
	NoDual     bool     `json:"no_dual"`
	Debug      bool     `json:"debug"`
}

func (c Command) Translate(ctx context.Context, req Request) (Stream, error) {
	if c.Path == "" {
		return nil, errors.New("engine command not configured")
	}
	sub := req.Submission
	payload, err := json.Marshal(commandRequest{
		JobID:      req.JobID,
		InputFile:  req.InputPath,
		OutputDir:  req.OutputDir,
		Glossaries: append([]string{}, req.GlossaryPaths...),
		LangIn:     sub.SourceLang,
		LangOut:    sub.TargetLang,
		Model:      sub.Model,
		BaseURL:    sub.BaseURL,
		Pages:      sub.Pages,
		QPS:        sub.QPS,
		NoMono:     sub.NoMono,
		NoDual:     sub.NoDual,
		Debug:      sub.Debug,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(append(os.Environ(), c.Env...), APIKeyEnv+"="+sub.APIKey)
	cmd.Stdin = bytes.NewReader(payload)
	tail := &tailBuffer{max: stderrTail}
	cmd.Stderr = tail
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	return &commandStream{
		ctx:     ctx,
		cmd:     cmd,
		scanner: scanner,
		stderr:  tail,
		log:     log.WithField("job_id", req.JobID),
	}, nil
}

type commandStream struct {
	ctx     context.Context
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *tailBuffer
	log     logrus.FieldLogger

	waitOnce sync.Once
	waitErr  error
}

func (s *commandStream) Next() (model.Event, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			s.log.WithField("line", truncate(string(line), 200)).Debug("ignoring engine output")
			continue
		}
		return ev, nil
	}
	scanErr := s.scanner.Err()
	if err := s.wait(); err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return model.Event{}, ctxErr
		}
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return model.Event{}, fmt.Errorf("engine exited: %w: %s", err, lastLine(msg))
		}
		return model.Event{}, fmt.Errorf("engine exited: %w", err)
	}
	if scanErr != nil {
		return model.Event{}, fmt.Errorf("read engine output: %w", scanErr)
	}
	return model.Event{}, io.EOF
}

func (s *commandStream) Close() error {
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func (s *commandStream) wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}

type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
