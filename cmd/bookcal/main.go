package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookcal/internal/config"
	appLog "bookcal/internal/log"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string

	// harness
	dataset  string
	category string
	csvOut   string
	xlsxOut  string

	// extract
	input string
	url   string
	add   bool

	mode string
}

const usage = `usage: bookcal [flags] <mode>

modes:
  serve    HTTP API; pages are pushed to POST /api/detect
  watch    HTTP API plus a Chromium tab that follows configured URLs
  harness  run the labeled dataset and print per-category accuracy
  extract  extract events from a text file, stdin or a page URL once

flags:
`

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override config file values if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if flags.dataset != "" {
		conf.Harness.Dataset = flags.dataset
	}
	if flags.category != "" {
		conf.Harness.Category = flags.category
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("bookcal starting", "version", "0.1.0", "mode", flags.mode)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"model", conf.Gemini.Model,
		"threshold", conf.Detector.Threshold,
		"calendar", conf.Calendar.Path,
		"watch_urls", len(conf.Watch.URLs),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	switch flags.mode {
	case "serve":
		err = runServe(ctx, conf)
	case "watch":
		err = runWatch(ctx, conf)
	case "harness":
		err = runHarness(ctx, conf, flags)
	case "extract":
		err = runExtract(ctx, conf, flags)
	default:
		flag.Usage()
		os.Exit(2)
	}

	// Give in-flight log lines a moment before exit.
	time.Sleep(100 * time.Millisecond)
	if err != nil {
		appLog.Error("bookcal failed", err, "mode", flags.mode)
		os.Exit(1)
	}
	appLog.Info("bookcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./bookcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn or error (overrides config if set)")
	flag.StringVar(&cfg.dataset, "dataset", "", "harness: dataset YAML (overrides config if set)")
	flag.StringVar(&cfg.category, "category", "", "harness: only run this category")
	flag.StringVar(&cfg.csvOut, "csv", "", "harness: write results CSV to this path")
	flag.StringVar(&cfg.xlsxOut, "xlsx", "", "harness: write results XLSX to this path")
	flag.StringVar(&cfg.input, "in", "-", "extract: input text file, - for stdin")
	flag.StringVar(&cfg.url, "url", "", "extract: capture this page in Chromium instead of reading -in")
	flag.BoolVar(&cfg.add, "add", false, "extract: add extracted events to the calendar")

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg.mode = "serve"
	if flag.NArg() > 0 {
		cfg.mode = flag.Arg(0)
	}
	return cfg
}
