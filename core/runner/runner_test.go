package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	perrors "github.com/FocuswithJustin/parseweb/core/errors"
)

// writeScript creates <root>/<name>/<file> with a /bin/sh body.
func writeScript(t *testing.T, root, name, file, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("parser scripts need /bin/sh")
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func newRunner(t *testing.T, cfg Config) *ScriptRunner {
	t.Helper()
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func stdinConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.Timeout = 10 * time.Second
	return cfg
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty mode means stdin", mutate: func(c *Config) { c.Mode = "" }},
		{name: "tempfile mode", mutate: func(c *Config) { c.Mode = ModeTempFile }},
		{name: "latin1 output", mutate: func(c *Config) { c.OutputEncoding = "latin1" }},
		{name: "empty dir", mutate: func(c *Config) { c.Dir = "" }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "socket" }, wantErr: true},
		{name: "wrapper with path", mutate: func(c *Config) { c.Wrapper = "../evil.sh" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: true},
		{name: "unknown encoding", mutate: func(c *Config) { c.OutputEncoding = "klingon-8" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, perrors.ErrInvalidInput) && !strings.Contains(err.Error(), "validation failed") {
				t.Errorf("New() error = %v, want a validation error", err)
			}
		})
	}
}

func TestScriptPath(t *testing.T) {
	r := newRunner(t, stdinConfig("/srv/parsers"))
	script, dir, err := r.ScriptPath("Finnish")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/srv/parsers", "Finnish", "run_Finnish.sh"); script != want {
		t.Errorf("script = %q, want %q", script, want)
	}
	if want := filepath.Join("/srv/parsers", "Finnish"); dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}

	cfg := stdinConfig("/srv/parsers")
	cfg.Mode = ModeTempFile
	r = newRunner(t, cfg)
	script, _, _ = r.ScriptPath("Finnish")
	if want := filepath.Join("/srv/parsers", "Finnish", DefaultWrapper); script != want {
		t.Errorf("tempfile script = %q, want %q", script, want)
	}

	for _, bad := range []string{"", "..", "../etc", "a/b", "-rf"} {
		if _, _, err := r.ScriptPath(bad); err == nil {
			t.Errorf("ScriptPath(%q) should fail", bad)
		}
	}
}

func TestInvokeStdin(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", "cat")

	r := newRunner(t, stdinConfig(root))
	res, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "Kissa\tistuu\t.\n\n"})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if res.Stdout != "Kissa\tistuu\t.\n\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.ExitCode != 0 || res.Stderr != "" {
		t.Errorf("ExitCode = %d, Stderr = %q", res.ExitCode, res.Stderr)
	}
	if res.Hash != HashText("Kissa\tistuu\t.\n\n") || len(res.Hash) != 64 {
		t.Errorf("Hash = %q", res.Hash)
	}
}

func TestInvokeEnvironmentAndWorkDir(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh",
		`echo "$PARSEWEB_SELECTION $LC_ALL $TZ $(basename "$(pwd)")"`)

	r := newRunner(t, stdinConfig(root))
	res, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if got, want := strings.TrimSpace(res.Stdout), "Finnish C.UTF-8 UTC Finnish"; got != want {
		t.Errorf("Stdout = %q, want %q", got, want)
	}
}

func TestInvokeTempFile(t *testing.T) {
	tests := []struct {
		name string
		keep bool
	}{
		{name: "removed after run", keep: false},
		{name: "kept when configured", keep: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tempDir := filepath.Join(t.TempDir(), "tempfiles")
			writeScript(t, root, "corpus", DefaultWrapper, `cat; echo "$1" >&2`)

			cfg := stdinConfig(root)
			cfg.Mode = ModeTempFile
			cfg.TempDir = tempDir
			cfg.KeepTempFiles = tt.keep
			r := newRunner(t, cfg)

			res, err := r.Invoke(context.Background(), Request{Name: "corpus", Text: "koira"})
			if err != nil {
				t.Fatalf("Invoke() error: %v", err)
			}
			if res.Stdout != "koira\n" {
				t.Errorf("Stdout = %q, want text plus newline", res.Stdout)
			}

			path := strings.TrimSpace(res.Stderr)
			if filepath.Dir(path) != tempDir {
				t.Errorf("temp file %q not in %q", path, tempDir)
			}
			if !strings.HasPrefix(filepath.Base(path), res.Hash+"-") {
				t.Errorf("temp file %q not named by hash %s", path, res.Hash)
			}

			_, statErr := os.Stat(path)
			if tt.keep && statErr != nil {
				t.Errorf("temp file should be kept: %v", statErr)
			}
			if !tt.keep && !os.IsNotExist(statErr) {
				t.Errorf("temp file should be removed, stat error = %v", statErr)
			}
		})
	}
}

func TestInvokeNonZeroExitIsNotFailure(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", "echo partial; echo warning >&2; exit 3")

	r := newRunner(t, stdinConfig(root))
	res, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Stdout != "partial\n" || res.Stderr != "warning\n" {
		t.Errorf("Stdout = %q, Stderr = %q", res.Stdout, res.Stderr)
	}
}

func TestInvokeTimeout(t *testing.T) {
	root := t.TempDir()
	// The background sleep holds stdout open; only a group kill ends it.
	writeScript(t, root, "Finnish", "run_Finnish.sh", "sleep 30 &\nsleep 30\nwait")

	cfg := stdinConfig(root)
	cfg.Timeout = 200 * time.Millisecond
	r := newRunner(t, cfg)

	start := time.Now()
	_, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})
	elapsed := time.Since(start)

	var te *perrors.ParserTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Invoke() error = %v, want ParserTimeoutError", err)
	}
	if te.Timeout != 200*time.Millisecond || te.Parser != "Finnish" {
		t.Errorf("timeout error = %+v", te)
	}
	if !errors.Is(err, perrors.ErrTimeout) {
		t.Error("timeout should unwrap to ErrTimeout")
	}
	if elapsed > 5*time.Second {
		t.Errorf("Invoke() took %v, want prompt return after timeout", elapsed)
	}
}

func TestInvokeCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", "sleep 30")

	r := newRunner(t, stdinConfig(root))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.Invoke(ctx, Request{Name: "Finnish", Text: "x"})
	var ie *perrors.ParserInvocationError
	if !errors.As(err, &ie) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke() error = %v, want ParserInvocationError wrapping context.Canceled", err)
	}
}

func TestInvokeMissingScript(t *testing.T) {
	r := newRunner(t, stdinConfig(t.TempDir()))

	_, err := r.Invoke(context.Background(), Request{Name: "Swedish", Text: "x"})
	var ie *perrors.ParserInvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("Invoke() error = %v, want ParserInvocationError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist: %v", err)
	}
	var nf *perrors.NotFoundError
	if !errors.As(err, &nf) || nf.Resource != "parser script" {
		t.Errorf("error = %v, want a NotFoundError for the parser script", err)
	}
}

func TestInvokeScriptIsDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Finnish", "run_Finnish.sh"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := newRunner(t, stdinConfig(root))
	_, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})
	var ie *perrors.ParserInvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("Invoke() error = %v, want ParserInvocationError", err)
	}
}

func TestInvokeInvalidName(t *testing.T) {
	r := newRunner(t, stdinConfig(t.TempDir()))

	_, err := r.Invoke(context.Background(), Request{Name: "../Finnish", Text: "x"})
	var ie *perrors.ParserInvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("Invoke() error = %v, want ParserInvocationError", err)
	}
}

func TestInvokeDecodeError(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", `printf '\377\376'`)

	r := newRunner(t, stdinConfig(root))
	_, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})

	var de *perrors.ParserOutputDecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Invoke() error = %v, want ParserOutputDecodeError", err)
	}
	if de.Encoding != "UTF-8" {
		t.Errorf("Encoding = %q, want UTF-8", de.Encoding)
	}
}

func TestInvokeLegacyOutputEncoding(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", `printf 'p\344iv\344\n'`)

	cfg := stdinConfig(root)
	cfg.OutputEncoding = "latin1"
	r := newRunner(t, cfg)

	res, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if res.Stdout != "p\u00e4iv\u00e4\n" {
		t.Errorf("Stdout = %q, want p\u00e4iv\u00e4", res.Stdout)
	}
}

func TestInvokeNormalizesInput(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", "cat")

	decomposed := "pa\u0308iva\u0308"
	tests := []struct {
		name      string
		normalize bool
		want      string
	}{
		{name: "NFC", normalize: true, want: "p\u00e4iv\u00e4"},
		{name: "verbatim", normalize: false, want: decomposed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := stdinConfig(root)
			cfg.NormalizeInput = tt.normalize
			r := newRunner(t, cfg)

			res, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: decomposed})
			if err != nil {
				t.Fatalf("Invoke() error: %v", err)
			}
			if res.Stdout != tt.want {
				t.Errorf("Stdout = %q, want %q", res.Stdout, tt.want)
			}
		})
	}
}

func TestInvokeMaxConcurrent(t *testing.T) {
	root := t.TempDir()
	// Exits 9 if another run holds the lock directory.
	writeScript(t, root, "Finnish", "run_Finnish.sh",
		"mkdir lock 2>/dev/null || exit 9\nsleep 0.1\nrmdir lock")

	cfg := stdinConfig(root)
	cfg.MaxConcurrent = 1
	r := newRunner(t, cfg)

	var wg sync.WaitGroup
	codes := make([]int, 4)
	errs := make([]error, 4)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})
			errs[i] = err
			if res != nil {
				codes[i] = res.ExitCode
			}
		}(i)
	}
	wg.Wait()

	for i := range codes {
		if errs[i] != nil {
			t.Errorf("run %d error: %v", i, errs[i])
		}
		if codes[i] != 0 {
			t.Errorf("run %d exit code %d, runs overlapped", i, codes[i])
		}
	}
}

func TestInvokeTimeoutIncludesQueueWait(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", "sleep 30")

	const timeout = 300 * time.Millisecond
	cfg := stdinConfig(root)
	cfg.Timeout = timeout
	cfg.MaxConcurrent = 1
	r := newRunner(t, cfg)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	elapsed := make([]time.Duration, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			_, errs[i] = r.Invoke(context.Background(), Request{Name: "Finnish", Text: "x"})
			elapsed[i] = time.Since(start)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		var te *perrors.ParserTimeoutError
		if !errors.As(errs[i], &te) {
			t.Errorf("caller %d error = %v, want ParserTimeoutError", i, errs[i])
		}
		// Serialized runs would make the last caller wait callers*timeout.
		if elapsed[i] > 4*timeout {
			t.Errorf("caller %d took %v, want about %v", i, elapsed[i], timeout)
		}
	}
}

func TestInvokeCancelledWhileQueued(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "Finnish", "run_Finnish.sh", "sleep 30")

	cfg := stdinConfig(root)
	cfg.MaxConcurrent = 1
	r := newRunner(t, cfg)

	holder, release := context.WithCancel(context.Background())
	defer release()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Invoke(holder, Request{Name: "Finnish", Text: "x"})
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.Invoke(ctx, Request{Name: "Finnish", Text: "y"})

	var ie *perrors.ParserInvocationError
	if !errors.As(err, &ie) {
		t.Errorf("Invoke() error = %v, want ParserInvocationError when the caller gives up", err)
	}
	release()
	<-done
}
