// Command parseweb serves a web form that runs per-selection parser scripts
// on submitted text, and offers the same parsers on the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/parseweb/core/cache"
	perrors "github.com/FocuswithJustin/parseweb/core/errors"
	"github.com/FocuswithJustin/parseweb/core/runner"
	"github.com/FocuswithJustin/parseweb/internal/catalog"
	"github.com/FocuswithJustin/parseweb/internal/config"
	"github.com/FocuswithJustin/parseweb/internal/detect"
	"github.com/FocuswithJustin/parseweb/internal/logging"
	"github.com/FocuswithJustin/parseweb/internal/validation"
	"github.com/FocuswithJustin/parseweb/internal/web"
)

const version = "0.1.0"

// CLI defines the command-line interface for parseweb.
type CLI struct {
	Globals `embed:""`

	Serve   ServeCmd   `cmd:"" help:"Start the web server"`
	Parse   ParseCmd   `cmd:"" help:"Run a parser once on a file or standard input"`
	Catalog CatalogCmd `cmd:"" help:"List the configured selections"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Globals are flags shared by every command.
type Globals struct {
	Config    string `name:"config" short:"c" help:"YAML configuration file" type:"path" env:"PARSEWEB_CONFIG"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" env:"PARSEWEB_LOG_LEVEL"`
	LogFormat string `name:"log-format" help:"Log format (json, text)" env:"PARSEWEB_LOG_FORMAT"`
}

// CatalogFlags override the catalog section of the configuration.
type CatalogFlags struct {
	CatalogList     string `name:"catalog" help:"JSON array of selectable names" type:"path" env:"PARSEWEB_CATALOG"`
	CatalogMetadata string `name:"metadata" help:"JSON object of per-selection metadata" type:"path" env:"PARSEWEB_METADATA"`
	DefaultName     string `name:"default" help:"Selection marked when none is requested" env:"PARSEWEB_DEFAULT"`
}

func (f *CatalogFlags) apply(cfg *config.Config) {
	if f.CatalogList != "" {
		cfg.Catalog.List = f.CatalogList
	}
	if f.CatalogMetadata != "" {
		cfg.Catalog.Metadata = f.CatalogMetadata
	}
	if f.DefaultName != "" {
		cfg.Catalog.Default = f.DefaultName
	}
}

// ParserFlags override the parser section of the configuration.
type ParserFlags struct {
	ParserDir      string        `name:"parser-dir" help:"Directory holding one subdirectory per selection" type:"path" env:"PARSEWEB_PARSER_DIR"`
	ParserMode     string        `name:"parser-mode" help:"How text reaches the parser (stdin, tempfile)" env:"PARSEWEB_PARSER_MODE"`
	ParserTimeout  time.Duration `name:"parser-timeout" help:"Time limit for one parser run" env:"PARSEWEB_PARSER_TIMEOUT"`
	TempDir        string        `name:"temp-dir" help:"Directory for tempfile mode input files" type:"path" env:"PARSEWEB_TEMP_DIR"`
	KeepTempFiles  bool          `name:"keep-temp-files" help:"Keep tempfile mode input files after the run" env:"PARSEWEB_KEEP_TEMP_FILES"`
	OutputEncoding string        `name:"output-encoding" help:"Character set of parser output" env:"PARSEWEB_OUTPUT_ENCODING"`
	MaxConcurrent  int64         `name:"max-concurrent" help:"Parser processes allowed at once, 0 for no limit" env:"PARSEWEB_MAX_CONCURRENT"`
}

func (f *ParserFlags) apply(cfg *config.Config) {
	if f.ParserDir != "" {
		cfg.Parser.Dir = f.ParserDir
	}
	if f.ParserMode != "" {
		cfg.Parser.Mode = f.ParserMode
	}
	if f.ParserTimeout > 0 {
		cfg.Parser.Timeout = f.ParserTimeout
	}
	if f.TempDir != "" {
		cfg.Parser.TempDir = f.TempDir
	}
	if f.KeepTempFiles {
		cfg.Parser.KeepTempFiles = true
	}
	if f.OutputEncoding != "" {
		cfg.Parser.OutputEncoding = f.OutputEncoding
	}
	if f.MaxConcurrent > 0 {
		cfg.Parser.MaxConcurrent = f.MaxConcurrent
	}
}

// loadConfig layers the YAML file, the global flags and any command
// overrides, validates the result and initializes logging from it.
func loadConfig(g *Globals, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, perrors.Wrap(err, "invalid configuration")
	}
	logging.InitLogger(cfg.LogLevel(), cfg.LogFormat())
	return cfg, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Load(cfg.Catalog.Metadata, cfg.Catalog.List, cfg.Catalog.Default)
	if err != nil {
		return nil, err
	}
	logging.Info("catalog_loaded",
		"list", cfg.Catalog.List,
		"metadata", cfg.Catalog.Metadata,
		"size", cat.Len(),
		"default", cat.Default())
	return cat, nil
}

// newInvoker builds the script runner, wrapped in a result cache when one
// is configured.
func newInvoker(cfg *config.Config) (runner.Invoker, error) {
	r, err := runner.New(cfg.RunnerConfig())
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Size <= 0 {
		return r, nil
	}

	logging.Info("result cache enabled",
		"size", cfg.Cache.Size,
		"max_bytes", cfg.Cache.MaxBytes,
		"ttl", cfg.Cache.TTL.String())
	results := cache.New[string, *runner.Result](cache.Config{
		MaxEntries: cfg.Cache.Size,
		MaxBytes:   cfg.Cache.MaxBytes,
		TTL:        cfg.Cache.TTL,
	}, runner.ResultSize)
	return runner.NewCached(r, results), nil
}

// ServeCmd starts the web server.
type ServeCmd struct {
	CatalogFlags `embed:""`
	ParserFlags  `embed:""`

	Host           string `help:"Listen address" env:"PARSEWEB_HOST"`
	Port           int    `help:"Listen port" env:"PARSEWEB_PORT"`
	ServerURL      string `name:"server-url" help:"Public base URL shown in pages" env:"PARSEWEB_SERVER_URL"`
	Debug          bool   `help:"Bind to loopback, reload templates and show error detail" env:"PARSEWEB_DEBUG"`
	IndexTemplate  string `name:"index-template" help:"HTML page with content markers" type:"path" env:"PARSEWEB_INDEX_TEMPLATE"`
	ResultTemplate string `name:"result-template" help:"HTML page for parser results" type:"path" env:"PARSEWEB_RESULT_TEMPLATE"`
	CSSDir         string `name:"css-dir" help:"Directory served under /css/" type:"path" env:"PARSEWEB_CSS_DIR"`
	JSDir          string `name:"js-dir" help:"Directory served under /js/" type:"path" env:"PARSEWEB_JS_DIR"`
	CacheSize      int    `name:"cache-size" help:"Parser results to keep in memory, 0 disables" env:"PARSEWEB_CACHE_SIZE"`
	CacheMaxBytes  int64  `name:"cache-max-bytes" help:"Total parser output the cache may hold" env:"PARSEWEB_CACHE_MAX_BYTES"`
	RateLimit      int    `name:"rate-limit" help:"Form posts per minute per client, 0 disables" env:"PARSEWEB_RATE_LIMIT"`
}

func (c *ServeCmd) apply(cfg *config.Config) {
	c.CatalogFlags.apply(cfg)
	c.ParserFlags.apply(cfg)

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.ServerURL != "" {
		cfg.Server.ServerURL = c.ServerURL
	}
	if c.Debug {
		cfg.Server.Debug = true
	}
	if c.IndexTemplate != "" {
		cfg.Templates.Index = c.IndexTemplate
	}
	if c.ResultTemplate != "" {
		cfg.Templates.Result = c.ResultTemplate
	}
	if c.CSSDir != "" {
		cfg.Static.CSSDir = c.CSSDir
	}
	if c.JSDir != "" {
		cfg.Static.JSDir = c.JSDir
	}
	if c.CacheSize > 0 {
		cfg.Cache.Size = c.CacheSize
	}
	if c.CacheMaxBytes > 0 {
		cfg.Cache.MaxBytes = c.CacheMaxBytes
	}
	if c.RateLimit > 0 {
		cfg.Limits.RequestsPerMinute = c.RateLimit
	}
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g, c.apply)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	inv, err := newInvoker(cfg)
	if err != nil {
		return err
	}

	srv, err := web.New(cfg, cat, inv)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}

// ParseCmd runs one parser on the command line.
type ParseCmd struct {
	CatalogFlags `embed:""`
	ParserFlags  `embed:""`

	Language string `short:"l" help:"Selection to parse with" env:"PARSEWEB_LANGUAGE"`
	Detect   bool   `help:"Pick the selection from the text when --language is not given"`
	File     string `arg:"" optional:"" help:"Input file, standard input when omitted" type:"existingfile"`
}

func (c *ParseCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, g, os.Stdin, os.Stdout)
}

func (c *ParseCmd) run(ctx context.Context, g *Globals, stdin io.Reader, stdout io.Writer) error {
	cfg, err := loadConfig(g, c.CatalogFlags.apply, c.ParserFlags.apply)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	text, err := c.readInput(stdin, cfg.Limits.MaxInputBytes)
	if err != nil {
		return err
	}

	name, err := c.selection(cat, text)
	if err != nil {
		return err
	}

	inv, err := newInvoker(cfg)
	if err != nil {
		return err
	}
	res, err := inv.Invoke(ctx, runner.Request{Name: name, Text: text})
	if err != nil {
		return err
	}

	for _, block := range runner.SplitBlocks(res.Stdout) {
		if _, err := io.WriteString(stdout, block+runner.BlockSeparator); err != nil {
			return err
		}
	}
	return nil
}

// readInput reads the file argument or stdin, up to limit bytes when limit
// is positive.
func (c *ParseCmd) readInput(stdin io.Reader, limit int64) (string, error) {
	in := stdin
	if c.File != "" {
		f, err := os.Open(c.File)
		if err != nil {
			return "", perrors.NewIO("open", c.File, err)
		}
		defer f.Close()
		in = f
	}
	if limit > 0 {
		in = io.LimitReader(in, limit+1)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", perrors.NewIO("read", c.File, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return "", perrors.NewValidation("input", fmt.Sprintf("larger than %d bytes", limit))
	}

	text := validation.SanitizeText(string(data))
	if strings.TrimSpace(text) == "" {
		return "", perrors.NewValidation("input", "no text to parse")
	}
	return text, nil
}

// selection resolves --language, --detect or the catalog default.
func (c *ParseCmd) selection(cat *catalog.Catalog, text string) (string, error) {
	if c.Language != "" {
		if !cat.Contains(c.Language) {
			return "", &perrors.UnknownSelectionError{Name: c.Language}
		}
		return c.Language, nil
	}
	if !c.Detect {
		return cat.Default(), nil
	}

	d, err := detect.New(cat.Names())
	if err != nil {
		return "", err
	}
	name, ok := d.Detect(text)
	if !ok {
		return "", errors.New("could not detect a selection for the input, use --language")
	}
	logging.Info("selection_detected", "selection", name)
	return name, nil
}

// CatalogCmd prints the selections.
type CatalogCmd struct {
	CatalogFlags `embed:""`
}

func (c *CatalogCmd) Run(g *Globals) error {
	return c.run(g, os.Stdout)
}

func (c *CatalogCmd) run(g *Globals, out io.Writer) error {
	cfg, err := loadConfig(g, c.CatalogFlags.apply)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	for _, name := range cat.Names() {
		mark := " "
		if name == cat.Default() {
			mark = "*"
		}
		line := mark + " " + name
		if meta := cat.Metadata(name); meta != "" {
			line += "\t" + meta
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("parseweb version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("parseweb"),
		kong.Description("Web front-end for per-selection parser scripts"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
