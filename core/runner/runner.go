// Package runner invokes the external per-selection parser scripts.
//
// A parser script is an opaque executable living in its own directory under
// the parser root. For a selection N the runner executes either
// <dir>/N/run_N.sh with the submitted text on standard input, or
// <dir>/N/<wrapper> with the text written to a content-addressed temporary
// file that is both the script's standard input and its first argument.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/text/encoding"
	"golang.org/x/text/unicode/norm"

	perrors "github.com/FocuswithJustin/parseweb/core/errors"
	"github.com/FocuswithJustin/parseweb/internal/logging"
	"github.com/FocuswithJustin/parseweb/internal/validation"
)

// Mode selects how the submitted text reaches the parser script.
type Mode string

const (
	// ModeStdin pipes the text to run_<name>.sh.
	ModeStdin Mode = "stdin"
	// ModeTempFile writes the text to a temporary file read by the wrapper script.
	ModeTempFile Mode = "tempfile"
)

// DefaultWrapper is the script run in ModeTempFile.
const DefaultWrapper = "parser_wrapper.sh"

// waitDelay bounds how long Run waits for stdout/stderr to close after the
// script exits or is killed. Grandchildren that inherit the pipes would
// otherwise keep Run blocked.
const waitDelay = 2 * time.Second

// EnvConfig contains the locale settings exported to every parser script.
type EnvConfig struct {
	TZ    string
	LCALL string
	LANG  string
}

// DefaultEnv returns a UTF-8 locale in UTC.
func DefaultEnv() EnvConfig {
	return EnvConfig{
		TZ:    "UTC",
		LCALL: "C.UTF-8",
		LANG:  "C.UTF-8",
	}
}

// Config controls script resolution and execution.
type Config struct {
	Dir            string        // parser root directory
	Mode           Mode          // ModeStdin or ModeTempFile
	Wrapper        string        // script name used in ModeTempFile
	TempDir        string        // where ModeTempFile writes submissions
	KeepTempFiles  bool          // leave submissions on disk after the run
	Timeout        time.Duration // per-invocation limit, 0 disables it
	OutputEncoding string        // charset of the script's stdout
	NormalizeInput bool          // convert input to Unicode NFC
	MaxConcurrent  int64         // concurrent scripts, 0 = unbounded
	Env            EnvConfig
}

// DefaultConfig returns the configuration of the language variant.
func DefaultConfig() Config {
	return Config{
		Dir:            "parsers",
		Mode:           ModeStdin,
		Wrapper:        DefaultWrapper,
		TempDir:        "tempfiles",
		Timeout:        30 * time.Second,
		OutputEncoding: "utf-8",
		NormalizeInput: true,
		Env:            DefaultEnv(),
	}
}

// Request is a single submission.
type Request struct {
	Name string // catalog selection
	Text string
}

// Result is the outcome of a completed parser run. A non-zero exit code or
// non-empty stderr does not make a run fail.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Hash     string // BLAKE3 of the submitted text, hex encoded
}

// Invoker runs a parser for a request.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// ScriptRunner is the Invoker backed by parser scripts on disk.
type ScriptRunner struct {
	cfg     Config
	sem     *semaphore.Weighted
	decoder encoding.Encoding // nil for UTF-8
	charset string
}

// New validates cfg and returns a ScriptRunner.
func New(cfg Config) (*ScriptRunner, error) {
	if cfg.Dir == "" {
		return nil, perrors.NewValidation("parser.dir", "must not be empty")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeStdin
	case ModeStdin, ModeTempFile:
	default:
		return nil, perrors.NewValidation("parser.mode", fmt.Sprintf("unknown mode %q", cfg.Mode))
	}
	if cfg.Wrapper == "" {
		cfg.Wrapper = DefaultWrapper
	}
	if err := validation.ValidateFilename(cfg.Wrapper); err != nil {
		return nil, &perrors.ValidationError{Field: "parser.wrapper", Message: err.Error(), Err: err}
	}
	if cfg.Timeout < 0 {
		return nil, perrors.NewValidation("parser.timeout", "must not be negative")
	}
	if cfg.Env == (EnvConfig{}) {
		cfg.Env = DefaultEnv()
	}

	dec, charset, err := lookupEncoding(cfg.OutputEncoding)
	if err != nil {
		return nil, &perrors.ValidationError{Field: "parser.output_encoding", Message: err.Error(), Err: err}
	}

	r := &ScriptRunner{cfg: cfg, decoder: dec, charset: charset}
	if cfg.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *ScriptRunner) Config() Config {
	return r.cfg
}

// ScriptPath returns the script executed for name and its working directory.
func (r *ScriptRunner) ScriptPath(name string) (script, dir string, err error) {
	if err := validation.ValidateFilename(name); err != nil {
		return "", "", &perrors.ParserInvocationError{Parser: name, Err: err}
	}
	dir = filepath.Join(r.cfg.Dir, name)
	if r.cfg.Mode == ModeTempFile {
		return filepath.Join(dir, r.cfg.Wrapper), dir, nil
	}
	return filepath.Join(dir, "run_"+name+".sh"), dir, nil
}

// Invoke runs the parser for req.Name once and waits for it to finish, the
// timeout to expire, or ctx to be cancelled.
func (r *ScriptRunner) Invoke(ctx context.Context, req Request) (*Result, error) {
	script, dir, err := r.ScriptPath(req.Name)
	if err != nil {
		return nil, err
	}
	if err := checkScript(script); err != nil {
		return nil, &perrors.ParserInvocationError{Parser: req.Name, Err: err}
	}

	text := r.Normalize(req.Text)
	hash := HashText(text)

	// The timeout covers waiting for a free slot as well as the run itself.
	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if r.sem != nil {
		if err := r.sem.Acquire(runCtx, 1); err != nil {
			return nil, r.contextError(ctx, runCtx, req.Name, 0)
		}
		defer r.sem.Release(1)
	}

	var (
		stdin io.Reader
		args  []string
	)
	switch r.cfg.Mode {
	case ModeTempFile:
		f, cleanup, err := r.writeTempFile(hash, text)
		if err != nil {
			return nil, &perrors.ParserInvocationError{Parser: req.Name, Err: err}
		}
		defer cleanup()
		stdin = f
		args = []string{f.Name()}
	default:
		stdin = strings.NewReader(text)
	}

	// Create command with context - the process group is killed when the context is done
	cmd := exec.CommandContext(runCtx, script, args...)
	cmd.Dir = dir
	cmd.Env = r.environ(req.Name)
	cmd.Stdin = stdin
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() != nil {
		return nil, r.contextError(ctx, runCtx, req.Name, duration)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay):
			logging.WarnContext(ctx, "parser_pipes_held_open", "parser", req.Name)
		default:
			logging.ParserError(ctx, req.Name, err)
			return nil, &perrors.ParserInvocationError{Parser: req.Name, Err: err}
		}
	}

	out, err := decodeOutput(r.decoder, stdout.Bytes())
	if err != nil {
		decodeErr := &perrors.ParserOutputDecodeError{Parser: req.Name, Encoding: r.charset, Err: err}
		logging.ParserError(ctx, req.Name, decodeErr)
		return nil, decodeErr
	}

	res := &Result{
		Stdout:   out,
		Stderr:   decodeLossy(stderr.Bytes()),
		ExitCode: exitCode,
		Duration: duration,
		Hash:     hash,
	}

	logging.ParserRun(ctx, req.Name, duration, exitCode,
		"mode", string(r.cfg.Mode), "input_bytes", len(text), "output_bytes", len(out))
	if exitCode != 0 || res.Stderr != "" {
		logging.WarnContext(ctx, "parser_diagnostics",
			"parser", req.Name, "exit_code", exitCode, "stderr", truncate(res.Stderr, 2048))
	}

	return res, nil
}

// Normalize returns text as the parser receives it: NFC unless input
// normalization is disabled.
func (r *ScriptRunner) Normalize(text string) string {
	if !r.cfg.NormalizeInput {
		return text
	}
	return norm.NFC.String(text)
}

// contextError reports why runCtx ended. Cancellation of the caller's ctx
// is an invocation failure; expiry of the run timeout is a ParserTimeoutError.
func (r *ScriptRunner) contextError(ctx, runCtx context.Context, name string, duration time.Duration) error {
	var err error
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = &perrors.ParserTimeoutError{Parser: name, Timeout: r.cfg.Timeout}
	} else {
		err = &perrors.ParserInvocationError{Parser: name, Err: runCtx.Err()}
	}
	logging.ParserError(ctx, name, err, "duration_ms", duration.Milliseconds())
	return err
}

// checkScript reports a missing or non-regular script.
func checkScript(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			nf := perrors.NewNotFound("parser script", path)
			nf.Err = err
			return nf
		}
		return perrors.NewIO("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return perrors.NewValidation("parser script", path+" is not a regular file")
	}
	return nil
}

// writeTempFile stores text plus a trailing newline under a name derived
// from its hash and returns the file opened for reading. cleanup closes the
// file and removes it unless KeepTempFiles is set.
func (r *ScriptRunner) writeTempFile(hash, text string) (*os.File, func(), error) {
	tempDir := r.cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return nil, nil, perrors.NewIO("create", tempDir, err)
	}

	f, err := os.CreateTemp(tempDir, hash+"-*.txt")
	if err != nil {
		return nil, nil, perrors.NewIO("create", tempDir, err)
	}
	name := f.Name()
	remove := func() {
		if !r.cfg.KeepTempFiles {
			_ = os.Remove(name)
		}
	}

	if _, err := io.WriteString(f, text+"\n"); err != nil {
		f.Close()
		remove()
		return nil, nil, perrors.NewIO("write", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		remove()
		return nil, nil, perrors.NewIO("seek", name, err)
	}

	cleanup := func() {
		f.Close()
		remove()
	}
	return f, cleanup, nil
}

func (r *ScriptRunner) environ(name string) []string {
	env := os.Environ()
	env = append(env,
		"TZ="+r.cfg.Env.TZ,
		"LC_ALL="+r.cfg.Env.LCALL,
		"LANG="+r.cfg.Env.LANG,
		"PARSEWEB_SELECTION="+name,
	)
	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
