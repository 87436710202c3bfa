// Package main provides the imagec command: it runs an analysis settings
// document over a folder of microscopy images and writes the results folder.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"imagec/internal/apperr"
	"imagec/internal/config"
	"imagec/internal/logger"
	"imagec/internal/metrics"
	"imagec/internal/processor"
	"imagec/internal/project"
	"imagec/internal/reader"
	"imagec/internal/settings"
	"imagec/internal/version"

	"github.com/sirupsen/logrus"
)

// Exit codes
const (
	exitOK            = 0
	exitConfiguration = 1
	exitIO            = 2
	exitCancelled     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	projectPath := flag.String("project", "", "Path to the analysis settings (JSON)")
	input := flag.String("input", "", "Folder with the images to analyse")
	out := flag.String("out", "", "Results root folder (default from config)")
	threads := flag.Int("threads", 0, "Images analysed in parallel (default from config)")
	configPath := flag.String("config", "", "Path to the runtime configuration (YAML)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return exitOK
	}
	if *projectPath == "" || *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: imagec --project <settings.json> --input <dir> [--out <dir>] [--threads N] [--config runtime.yaml] [--log-level info]")
		return exitConfiguration
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Error("cannot load runtime configuration")
		return exitConfiguration
	}
	if *threads > 0 {
		cfg.Processing.Threads = *threads
	}
	if *out != "" {
		cfg.Output.ResultsRoot = *out
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)

	s, err := settings.Load(*projectPath)
	if err != nil {
		logger.WithError(err).WithField("settings", *projectPath).Error("invalid analysis settings")
		return exitConfiguration
	}

	images, err := processor.ListImages(*input)
	if err != nil {
		logger.WithError(err).WithField("input", *input).Error("cannot list images")
		return exitIO
	}
	if len(images) == 0 {
		logger.WithField("input", *input).Warn("no supported images found")
	}

	name := strings.TrimSuffix(filepath.Base(*projectPath), filepath.Ext(*projectPath))
	job := project.New(name)
	job.Threads = cfg.Processing.Threads
	dir, err := project.CreateResultsFolder(cfg.Output.ResultsRoot, job.Start)
	if err != nil {
		logger.WithError(err).WithField("root", cfg.Output.ResultsRoot).Error("cannot create results folder")
		return exitIO
	}
	job.SetInputFolder(dir, *input)
	log := logger.WithFields(logrus.Fields{"job": job.JobId, "results": dir})
	if err := job.CopySettings(dir, s); err != nil {
		log.WithError(err).Error("cannot copy analysis settings")
		return exitIO
	}
	if err := job.Save(dir); err != nil {
		log.WithError(err).Error("cannot write job manifest")
		return exitIO
	}

	r := reader.Init(cfg.ReaderRAMBudget())
	defer r.Close()

	m := metrics.New()
	p, err := processor.New(s, r, m, processor.OptionsFromConfig(cfg, dir))
	if err != nil {
		log.WithError(err).Error("cannot prepare run")
		return exitConfiguration
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"version": version.Version,
		"images":  len(images),
		"threads": cfg.Processing.Threads,
	}).Info("starting analysis")
	summary, runErr := p.Run(ctx, images)

	job.Finish(summary)
	if err := job.Save(dir); err != nil {
		log.WithError(err).Error("cannot write job manifest")
		return exitIO
	}
	if cfg.Output.WriteMetrics {
		if err := m.WriteToFile(filepath.Join(dir, "metrics.prom")); err != nil {
			log.WithError(err).Warn("cannot write metrics")
		}
	}

	switch {
	case runErr != nil:
		log.WithError(runErr).Error("analysis failed")
		if apperr.IsType(runErr, apperr.ErrorTypeConfiguration) {
			return exitConfiguration
		}
		return exitIO
	case summary.Cancelled:
		log.Warn("analysis cancelled")
		return exitCancelled
	}
	log.WithFields(logrus.Fields{
		"processed": summary.NImagesProcessed,
		"failed":    summary.NImagesFailed,
		"duration":  job.Duration().String(),
	}).Info("analysis finished")
	return exitOK
}
