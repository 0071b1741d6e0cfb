// entry point of the application
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"

	"audiofetch/internal/config"
	"audiofetch/internal/consts"
	"audiofetch/internal/depmanager"
	"audiofetch/internal/entity"
	httprouter "audiofetch/internal/infrastructure/delivery/http"
	"audiofetch/internal/observability"
	"audiofetch/internal/proxy"
	"audiofetch/internal/service"
	"audiofetch/internal/source"
	"audiofetch/internal/transcoder"
	"audiofetch/internal/tui"
	httpserver "audiofetch/pkg/http/server"
	"audiofetch/pkg/logger"
	"audiofetch/pkg/urls"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitPartial = 2

	uiTUI       = "tui"
	logFileName = "audiofetch.log"
	logFilePerm = 0o644
	dirPerm     = 0o755
)

var errNotReady = errors.New("binaries not resolved yet")

func main() {
	os.Exit(run())
}

// applyFlags overrides env configuration with the flags that were set.
func applyFlags(cfg *config.Config, args []string) (string, error) {
	fs := flag.NewFlagSet("audiofetch", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: audiofetch [flags] [URL]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	var (
		output      = fs.String("o", cfg.Dir.Output, "output directory")
		ui          = fs.String("ui", cfg.App.UI, "progress display: plain or tui")
		src         = fs.String("source", cfg.Source.Name, "media source: youtube, ytdlp or mock")
		conv        = fs.String("transcoder", cfg.Source.Transcoder, "transcoder: ffmpeg or mock")
		concurrency = fs.Int("concurrency", cfg.Fetch.MaxConcurrent, "maximum parallel downloads")
		logLevel    = fs.String("log-level", cfg.App.LogLevel, "log level: debug, info, warn, error")
		metricsAddr = fs.String("metrics-addr", cfg.Metrics.Addr, "serve /metrics and /readyz on this address")
		noTag       = fs.Bool("no-tag", !cfg.Fetch.Tag, "do not write ID3 tags")
	)

	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("parse flags: %w", err)
	}

	cfg.App.UI = *ui
	cfg.App.LogLevel = *logLevel
	cfg.Source.Name = *src
	cfg.Source.Transcoder = *conv
	cfg.Fetch.MaxConcurrent = *concurrency
	cfg.Metrics.Addr = *metricsAddr
	cfg.Fetch.Tag = !*noTag

	if *output != cfg.Dir.Output {
		abs, err := filepath.Abs(*output)
		if err != nil {
			return "", fmt.Errorf("output: %w", err)
		}

		cfg.Dir.Output = abs
	}

	return fs.Arg(0), nil
}

// promptURL asks for the URL on r when none was given on the command line.
func promptURL(r io.Reader, w io.Writer) (string, error) {
	fmt.Fprint(w, "Enter a video or playlist URL: ")

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read url: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// normalizeInput adds a scheme to host-like input and leaves bare video ids alone.
func normalizeInput(raw string) string {
	raw = strings.TrimSpace(raw)
	if urls.IsURLValid(raw) || !strings.ContainsAny(raw, "./") {
		return raw
	}

	return urls.FixURL(raw)
}

// newLogger writes to stderr, or to a file in TUI mode so records do not tear the screen.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)

	path := cfg.App.LogFile
	if path == "" && cfg.App.UI == uiTUI {
		path = filepath.Join(cfg.Dir.Cache, logFileName)
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return nil, closeFn, fmt.Errorf("create log dir: %w", err)
		}

		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open log file: %w", err)
		}

		w = f
		closeFn = func() { f.Close() }
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
		Format:    cfg.App.LogFormat,
		Writer:    w,
	})
	if err != nil {
		log.Warn("logger level invalid; defaulting to info", slog.Any("error", err))
	}

	return log, closeFn, nil
}

func requiredBinaries(cfg *config.Config) []depmanager.BinaryName {
	var names []depmanager.BinaryName

	if cfg.Source.Transcoder == consts.TranscoderFFmpeg {
		names = append(names, depmanager.BinaryFFmpeg)
	}

	if cfg.Source.Name == consts.SourceYTdlp {
		names = append(names, depmanager.BinaryYTdlp)
	}

	return names
}

func exitCode(res *entity.DownloadResult) int {
	if res == nil {
		return exitFailure
	}

	switch res.Outcome {
	case entity.OutcomeAllSucceeded:
		return exitOK
	case entity.OutcomePartialFailure:
		return exitPartial
	default:
		return exitFailure
	}
}

//nolint:funlen // linear startup sequence
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))

		return exitFailure
	}

	rawURL, err := applyFlags(cfg, os.Args[1:])
	if err != nil {
		return exitFailure
	}

	if rawURL == "" {
		if rawURL, err = promptURL(os.Stdin, os.Stdout); err != nil {
			slog.Error("prompt", slog.Any("error", err))

			return exitFailure
		}
	}

	rawURL = normalizeInput(rawURL)

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		slog.Error("logger new", slog.Any("error", err))

		return exitFailure
	}
	defer closeLog()

	metrics := observability.New(nil)

	var ready atomic.Bool

	if cfg.Metrics.Addr != "" {
		router := httprouter.New(log, observability.Handler(nil), func() error {
			if !ready.Load() {
				return errNotReady
			}

			return nil
		})

		srv, err := httpserver.New(router, httpserver.Options{
			Addr:            cfg.Metrics.Addr,
			ShutdownTimeout: cfg.Metrics.ShutdownTimeout,
		})
		if err != nil {
			log.ErrorContext(ctx, "metrics server", slog.Any("error", err))

			return exitFailure
		}

		defer func() {
			if err := srv.Shutdown(); err != nil {
				log.Error("metrics server shutdown", slog.Any("error", err))
			}
		}()

		go func() {
			for err := range srv.Notify() {
				log.Error("metrics server stopped", slog.Any("error", err))
			}
		}()

		log.InfoContext(ctx, "metrics server started", slog.String("addr", srv.Addr()))
	}

	depMgr := depmanager.New(log, cfg.DepManager)

	if names := requiredBinaries(cfg); len(names) > 0 {
		log.InfoContext(ctx, "resolving external binaries. it may take some time...", slog.Any("binaries", names))

		if err := depMgr.Resolve(ctx, names...); err != nil {
			log.ErrorContext(ctx, "resolve binaries", slog.Any("error", err))
			fmt.Fprintf(os.Stderr, "%s%v\n", consts.MsgErrorPrefix, err)

			return exitFailure
		}
	}

	proxyMgr, err := proxy.New(log, cfg.Proxy, metrics)
	if err != nil {
		log.ErrorContext(ctx, "proxy manager", slog.Any("error", err))

		return exitFailure
	}

	opts := source.Options{
		HTTPClient: proxyMgr.HTTPClient(cfg.Source.RequestTimeout),
		YTdlpPath:  depMgr.Path(depmanager.BinaryYTdlp),
		FFmpegPath: depMgr.Path(depmanager.BinaryFFmpeg),
		CacheDir:   cfg.Dir.Cache,
		CookieFile: cfg.Dir.CookieFile,
		MixItemCap: cfg.Fetch.MixItemCap,
	}

	if cfg.Source.Name == consts.SourceYTdlp {
		if opts.Proxy, err = proxyMgr.GetProxy(ctx); err != nil {
			log.WarnContext(ctx, "no usable proxy, connecting directly", slog.Any("error", err))
		}
	}

	src, err := source.New(cfg.Source.Name, log, opts)
	if err != nil {
		log.ErrorContext(ctx, "source new", slog.Any("error", err))

		return exitFailure
	}

	conv, err := transcoder.New(cfg.Source.Transcoder, log, depMgr.Path(depmanager.BinaryFFmpeg))
	if err != nil {
		log.ErrorContext(ctx, "transcoder new", slog.Any("error", err))

		return exitFailure
	}

	svc := service.New(cfg, log, src, conv, metrics)

	ready.Store(true)

	log.InfoContext(ctx, "audiofetch started",
		slog.String("url", rawURL),
		slog.String("output", cfg.Dir.Output),
		slog.String("source", cfg.Source.Name))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	notes := svc.Run(runCtx, rawURL, cfg.Dir.Output)

	var res *entity.DownloadResult

	if cfg.App.UI == uiTUI {
		if res, err = tui.Run(rawURL, notes, cancel); err != nil {
			log.ErrorContext(ctx, "tui", slog.Any("error", err))
		}
	} else {
		res = tui.Plain(os.Stdout, notes)
	}

	log.InfoContext(ctx, "audiofetch finished", slog.Any("result", res))

	return exitCode(res)
}
