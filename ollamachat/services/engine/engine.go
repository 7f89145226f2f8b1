// ollamachat/services/engine/engine.go
package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ollamachat/ollamachat/config"
	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/logging"
)

const (
	// ExitModelMissing is the engine's exit code for a model it does not have.
	ExitModelMissing = 1
	// ExitNotFound is reported when the engine binary cannot be executed at all.
	ExitNotFound = 127

	maxStderr = 64 * 1024
	waitDelay = 2 * time.Second
)

var ansiEscape = regexp.MustCompile(`\x1B\[[0-?]*[ -/]*[@-~]`)

// StripANSI removes CSI escape sequences from s.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// Exit is how an engine run ended.
type Exit struct {
	Code   int
	Stderr string
}

// Client runs the local model engine binary.
type Client struct {
	Path           string
	BaseArgs       []string
	Env            []string
	ListTimeout    time.Duration
	VersionTimeout time.Duration

	logs *logging.Loggers
}

func NewClient(cfg config.Config, logs *logging.Loggers) *Client {
	return &Client{
		Path:           cfg.EnginePath,
		ListTimeout:    cfg.ListTimeout,
		VersionTimeout: cfg.VersionTimeout,
		logs:           logs,
	}
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, append(slices.Clone(c.BaseArgs), args...)...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// ListModels returns the names of installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	defer c.logs.LogDuration(ctx, "engine_list_models")()

	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	out, err := c.command(ctx, "list").Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errs.Wrap(errs.EngineUnavailable, "Request timeout",
			fmt.Sprintf("Unable to retrieve models within %s. Please try again.", c.ListTimeout), ctx.Err())
	}
	if err != nil {
		return nil, errs.Wrap(errs.EngineUnavailable, "Ollama error",
			"Unable to retrieve models from Ollama. Please ensure Ollama is running.", err)
	}
	return ParseList(out), nil
}

// ParseList extracts model names from the engine's tabular listing: the
// header row is skipped and the first column of each other row is kept.
func ParseList(out []byte) []string {
	var names []string
	for i, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if i == 0 && strings.EqualFold(fields[0], "NAME") {
			continue
		}
		if !slices.Contains(names, fields[0]) {
			names = append(names, fields[0])
		}
	}
	return names
}

// Version returns the engine's version banner.
func (c *Client) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.VersionTimeout)
	defer cancel()

	out, err := c.command(ctx, "--version").Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", errs.Wrap(errs.EngineUnavailable, "Ollama connection timeout",
			fmt.Sprintf("Unable to connect to Ollama within %s", c.VersionTimeout), ctx.Err())
	}
	if err != nil {
		return "", errs.Wrap(errs.EngineUnavailable, "Ollama command failed",
			"Ollama may not be installed or accessible", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Run starts `<engine> run <model>`, feeds it prompt and calls onLine for
// every output line with escape sequences removed. It returns once the
// process has exited and all its output has been consumed. A missing
// binary is reported as Exit{Code: ExitNotFound}. Cancelling ctx kills the
// process; Run still reaps it and returns ctx's error.
func (c *Client) Run(ctx context.Context, model, prompt string, onLine func(string)) (Exit, error) {
	defer c.logs.LogDuration(ctx, "engine_run")()

	cmd := c.command(ctx, "run", model)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Exit{}, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Exit{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &cappedBuffer{max: maxStderr}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			c.logs.Error.Error("engine binary not found", zap.String("path", c.Path), zap.Error(err))
			return Exit{Code: ExitNotFound}, nil
		}
		return Exit{}, fmt.Errorf("start engine: %w", err)
	}

	// The prompt goes in on its own goroutine so a full stdin pipe can never
	// stall the stdout reader below.
	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(stdin, prompt)
		if cerr := stdin.Close(); err == nil {
			err = cerr
		}
		written <- err
	}()

	reader := bufio.NewReader(stdout)
	var readErr error
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			onLine(StripANSI(strings.TrimRight(line, "\r\n")))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
				_, _ = io.Copy(io.Discard, stdout)
			}
			break
		}
	}

	waitErr := cmd.Wait()
	writeErr := <-written

	if ctx.Err() != nil {
		return Exit{Code: -1, Stderr: stderr.String()}, ctx.Err()
	}
	if readErr != nil {
		return Exit{}, fmt.Errorf("read engine output: %w", readErr)
	}

	exit := Exit{Stderr: stderr.String()}
	if waitErr != nil {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return exit, fmt.Errorf("wait engine: %w", waitErr)
		}
		exit.Code = ee.ExitCode()
	}
	if exit.Code == 0 && writeErr != nil && !brokenPipe(writeErr) {
		return exit, fmt.Errorf("write prompt: %w", writeErr)
	}
	return exit, nil
}

// DescribeExit turns a non-zero engine exit code into a user-facing message.
func DescribeExit(code int) string {
	switch code {
	case ExitModelMissing:
		return "Model not found. Please ensure the model is pulled with 'ollama pull'"
	case 2:
		return "Invalid model format or corrupted model"
	case 3:
		return "Insufficient system resources"
	case ExitNotFound:
		return "Ollama command not found. Please ensure Ollama is installed and in PATH"
	default:
		return fmt.Sprintf("Ollama exited with code %d", code)
	}
}

func brokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// cappedBuffer keeps at most max bytes and silently drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
