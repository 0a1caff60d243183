package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acme-corp/meeting-archiver/internal/archiver"
	"github.com/acme-corp/meeting-archiver/internal/config"
	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/ingestion"
	"github.com/acme-corp/meeting-archiver/internal/logger"
	"github.com/acme-corp/meeting-archiver/internal/metrics"
	"github.com/acme-corp/meeting-archiver/internal/storage"
)

// Version is set at build time.
var Version = "dev"

// errRunFailed is returned after a failed run's result has been printed.
var errRunFailed = errors.New(errors.ErrUncoded, "archive run failed")

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		if err != errRunFailed {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cfg := config.Default()
	root := &cobra.Command{
		Use:           "archiver",
		Short:         "Export confirmed meeting summaries into yearly archive files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Load(viper.New(), cmd.Flags())
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	cfg.Flags(root.PersistentFlags())

	root.AddCommand(newRunCommand(cfg, stdout, stderr))
	root.AddCommand(newServeCommand(cfg, stderr))
	return root
}

func newRunCommand(cfg *config.Config, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one export and print its result.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Trigger(ctx)
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.StatusCode != 200 {
				return errRunFailed
			}
			return nil
		},
	}
}

// app holds the components of one configured archiver process.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	reporter *logger.SentryReporter
	source   ingestion.Source
	metrics  *metrics.Collector
	arch     *archiver.Archiver
}

func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	reporter, err := logger.NewSentryReporter(cfg.Sentry.DSN, Version)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "initializing sentry")
	}
	// A nil *SentryReporter must not become a non-nil Reporter.
	var rep logger.Reporter
	if reporter != nil {
		rep = reporter
	}
	log := logger.NewTo(stderr, cfg.Verbose, rep)

	source := newSource(cfg, log)
	if err := source.Open(ctx); err != nil {
		return nil, errors.Wrapf(err, "opening %s", source.Name())
	}

	store := newStore(cfg, log)
	committer := storage.NewCommitter(store, cfg.Archive.Org, log)
	committer.DryRun = cfg.Archive.DryRun

	collector := metrics.NewCollector()
	log.Infof("archiver %s: %s -> %s (org %s)", Version, source.Name(), store.Name(), cfg.Archive.Org)
	return &app{
		cfg:      cfg,
		log:      log,
		reporter: reporter,
		source:   source,
		metrics:  collector,
		arch: archiver.New(source, committer, archiver.Options{
			Concurrency:         cfg.Fetch.Concurrency,
			Workers:             cfg.Fetch.Workers,
			CommitConcurrency:   cfg.Archive.CommitConcurrency,
			QuarantineMalformed: cfg.Archive.QuarantineMalformed,
			Metrics:             collector,
			Logger:              log,
		}),
	}, nil
}

func newSource(cfg *config.Config, log logger.Logger) ingestion.Source {
	if cfg.Source.Type == config.SourceREST {
		return ingestion.NewRESTSource(cfg.Source.URL, cfg.Source.APIKey, cfg.Source.Table, cfg.Fetch.PageSize, cfg.GitHub.RetryMax, log)
	}
	return ingestion.NewPostgresSource(cfg.Source.ConnectionString, cfg.Source.Table, cfg.Fetch.PageSize, log)
}

func newStore(cfg *config.Config, log logger.Logger) storage.FileStore {
	if cfg.Archive.LocalDir != "" {
		return storage.NewLocalStore(cfg.Archive.LocalDir)
	}
	return storage.NewGitHubStore(storage.GitHubConfig{
		APIURL:   cfg.GitHub.APIURL,
		Owner:    cfg.GitHub.Owner,
		Repo:     cfg.GitHub.Repo,
		Branch:   cfg.GitHub.Branch,
		Token:    cfg.GitHub.Token,
		RetryMax: cfg.GitHub.RetryMax,
	}, log)
}

// Trigger runs the archiver once and pushes metrics when a gateway is
// configured.
func (a *app) Trigger(ctx context.Context) archiver.Result {
	res := a.arch.Trigger(ctx)
	snap, _ := a.metrics.JSON()
	a.log.Debugf("metrics:\n%s", snap)
	if a.cfg.Metrics.PushGateway != "" {
		if err := a.metrics.Push(a.cfg.Metrics.PushGateway, a.cfg.Metrics.Job); err != nil {
			a.log.Warnf("pushing metrics to %s: %v", a.cfg.Metrics.PushGateway, err)
		}
	}
	return res
}

func (a *app) Close() {
	if err := a.source.Close(); err != nil {
		a.log.Warnf("closing %s: %v", a.source.Name(), err)
	}
	if a.reporter != nil {
		a.reporter.Flush()
	}
}
