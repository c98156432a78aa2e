package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"course-harvest/internal/auth"
	"course-harvest/internal/config"
	"course-harvest/internal/crawl"
	"course-harvest/internal/logging"
	"course-harvest/internal/providers"
	"course-harvest/internal/providers/udemy"
	"course-harvest/internal/sftpclient"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	out        string
	workers    int
	token      string
	courses    []string
	confirm    bool
	dryRun     bool
	sftp       bool
	headless   bool
	browser    bool
	timeout    time.Duration
	logLevel   string
	logFormat  string

	fs *pflag.FlagSet
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	f := &cliFlags{}
	fs := pflag.NewFlagSet("harvest", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "TOML config file (default: $HARVEST_CONFIG)")
	fs.StringVarP(&f.out, "out", "o", "", "output directory")
	fs.IntVarP(&f.workers, "workers", "w", 0, "parallel lesson downloads")
	fs.StringVar(&f.token, "token", "", "pre-captured bearer token or cookie string; skips the browser login")
	fs.StringSliceVarP(&f.courses, "course", "c", nil, "course id or slug to download (repeatable; default all)")
	fs.BoolVar(&f.confirm, "confirm", false, "wait for Enter on stdin after logging in instead of auto-detecting")
	fs.BoolVar(&f.dryRun, "dry-run", false, "crawl and write the manifest without downloading")
	fs.BoolVar(&f.sftp, "sftp", false, "mirror downloaded files over SFTP")
	fs.BoolVar(&f.headless, "headless", false, "run the login browser headless")
	fs.BoolVar(&f.browser, "browser", true, "allow the interactive browser login")
	fs.DurationVar(&f.timeout, "auth-timeout", 0, "give up on the browser login after this long")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "console or json")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	f.fs = fs
	return f, nil
}

// apply overrides cfg with the flags that were set explicitly.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.fs.Changed("out") {
		cfg.Crawl.OutputDir = f.out
	}
	if f.fs.Changed("workers") {
		cfg.Crawl.Workers = f.workers
	}
	if f.fs.Changed("token") {
		cfg.Auth.Token = f.token
	}
	if f.fs.Changed("course") {
		cfg.Crawl.Courses = f.courses
	}
	if f.fs.Changed("sftp") {
		cfg.SFTP.Enabled = f.sftp
	}
	if f.fs.Changed("headless") {
		cfg.Auth.Headless = f.headless
	}
	if f.fs.Changed("browser") {
		cfg.Auth.BrowserEmulation = f.browser
	}
	if f.fs.Changed("auth-timeout") {
		cfg.Auth.Timeout = config.Duration(f.timeout)
	}
	if f.fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if f.fs.Changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
}

func run(args []string) error {
	flags, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(&cfg)

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	// Ctrl-C corta el run; la descarga en curso termina igual
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform := udemy.NewProvider(udemy.Options{
		BaseURL:           cfg.Platform.BaseURL,
		LoginURL:          cfg.Auth.LoginURL,
		UserAgent:         cfg.Platform.UserAgent,
		AcceptLanguage:    cfg.Platform.AcceptLanguage,
		PageSize:          cfg.Platform.PageSize,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Workers:           cfg.Crawl.Workers,
		AuthTimeout:       cfg.Auth.Timeout.Std(),
		PollInterval:      cfg.Auth.PollInterval.Std(),
		SettleDelay:       cfg.Auth.SettleDelay.Std(),
		Launcher:          auth.ChromeLauncher{UserAgent: cfg.Platform.UserAgent, Headless: cfg.Auth.Headless},
	}, logger)

	runner := crawl.NewRunner(platform, crawl.Options{
		OutputDir:      cfg.Crawl.OutputDir,
		Workers:        cfg.Crawl.Workers,
		Courses:        cfg.Crawl.Courses,
		DryRun:         flags.dryRun,
		ExportManifest: cfg.Crawl.ExportManifest || flags.dryRun,
	}, logger)

	if cfg.SFTP.Enabled {
		mirror, err := sftpclient.Dial(ctx, sftpclient.Config{
			Host:                  cfg.SFTP.Host,
			Port:                  cfg.SFTP.Port,
			User:                  cfg.SFTP.User,
			Pass:                  cfg.SFTP.Pass,
			RemoteDir:             cfg.SFTP.RemoteDir,
			InsecureIgnoreHostKey: cfg.SFTP.InsecureIgnoreHostKey,
			KnownHostsFile:        cfg.SFTP.KnownHostsFile,
		})
		if err != nil {
			return err
		}
		defer mirror.Close()
		runner.WithMirror(mirror)
		logger.Info().Str("host", cfg.SFTP.Host).Str("dir", cfg.SFTP.RemoteDir).Msg("sftp mirror connected")
	}

	creds := providers.Credentials{
		Token:            cfg.Auth.Token,
		BrowserEmulation: cfg.Auth.BrowserEmulation,
	}
	if flags.confirm && cfg.Auth.Token == "" {
		creds.Confirm = waitForEnter(os.Stdin, os.Stderr)
	}

	sum, err := runner.Run(ctx, creds)
	logger.Info().
		Str("run_id", sum.RunID).
		Int("courses", sum.Courses).
		Int("lessons", sum.Lessons).
		Int("files", sum.Files).
		Str("size", humanize.Bytes(uint64(sum.Bytes))).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Int("uploaded", sum.Uploaded).
		Str("out", sum.OutputDir).
		Msg("run finished")
	return err
}

// waitForEnter prompts on w and closes the returned channel once a line
// (or EOF) is read from r.
func waitForEnter(r io.Reader, w io.Writer) <-chan struct{} {
	ch := make(chan struct{})
	fmt.Fprintln(w, "Log in in the browser window, then press Enter here.")
	go func() {
		defer close(ch)
		bufio.NewReader(r).ReadString('\n')
	}()
	return ch
}
