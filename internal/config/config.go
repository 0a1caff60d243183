// Package config holds the archiver's settings and merges them from a TOML
// file, ARCHIVER_* environment variables and command line flags.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/acme-corp/meeting-archiver/internal/errors"
)

const (
	SourcePostgres = "postgres"
	SourceREST     = "rest"

	EnvPrefix = "ARCHIVER"
)

// Config holds all configuration for an archive run.
type Config struct {
	Source  SourceConfig
	Fetch   FetchConfig
	GitHub  GitHubConfig
	Archive ArchiveConfig
	Metrics MetricsConfig
	Sentry  SentryConfig

	Verbose bool
	Listen  string
}

// SourceConfig selects and addresses the row store.
type SourceConfig struct {
	Type             string // "postgres" or "rest"
	ConnectionString string
	URL              string
	APIKey           string
	Table            string
}

type FetchConfig struct {
	PageSize    int
	Concurrency int
	Workers     int
}

// GitHubConfig addresses the repository the archive files live in.
type GitHubConfig struct {
	Token    string
	Owner    string
	Repo     string
	Branch   string
	APIURL   string
	RetryMax int
}

// ArchiveConfig controls how partitions are committed.
type ArchiveConfig struct {
	Org                 string
	LocalDir            string
	CommitConcurrency   int
	QuarantineMalformed bool
	DryRun              bool
}

type MetricsConfig struct {
	PushGateway string
	Job         string
}

type SentryConfig struct {
	DSN string
}

// Default returns a Config with every default filled in.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Type:  SourcePostgres,
			Table: "meetingsummaries",
		},
		Fetch: FetchConfig{
			PageSize:    100,
			Concurrency: 10,
			Workers:     4,
		},
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com",
		},
		Archive: ArchiveConfig{
			CommitConcurrency: 1,
		},
		Metrics: MetricsConfig{
			Job: "meeting_archiver",
		},
		Listen: ":8080",
	}
}

// Flags registers a flag for every setting, bound to c. Flag names are the
// dotted configuration keys, so the same name works in the TOML file
// ("[source] type = ...") and the environment (ARCHIVER_SOURCE_TYPE).
func (c *Config) Flags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Source.Type, "source.type", c.Source.Type, "Row store access path: postgres or rest.")
	fs.StringVar(&c.Source.ConnectionString, "source.connection-string", c.Source.ConnectionString, "Postgres connection string.")
	fs.StringVar(&c.Source.URL, "source.url", c.Source.URL, "Supabase project URL for the rest source.")
	fs.StringVar(&c.Source.APIKey, "source.api-key", c.Source.APIKey, "Supabase API key for the rest source.")
	fs.StringVar(&c.Source.Table, "source.table", c.Source.Table, "Table holding meeting summaries.")

	fs.IntVar(&c.Fetch.PageSize, "fetch.page-size", c.Fetch.PageSize, "Records per page request.")
	fs.IntVar(&c.Fetch.Concurrency, "fetch.concurrency", c.Fetch.Concurrency, "Page requests issued per round.")
	fs.IntVar(&c.Fetch.Workers, "fetch.workers", c.Fetch.Workers, "Sanitizer workers.")

	fs.StringVar(&c.GitHub.Token, "github.token", c.GitHub.Token, "GitHub token. GITHUB_TOKEN is used when unset.")
	fs.StringVar(&c.GitHub.Owner, "github.owner", c.GitHub.Owner, "Owner of the archive repository.")
	fs.StringVar(&c.GitHub.Repo, "github.repo", c.GitHub.Repo, "Name of the archive repository.")
	fs.StringVar(&c.GitHub.Branch, "github.branch", c.GitHub.Branch, "Branch to commit to. Empty means the default branch.")
	fs.StringVar(&c.GitHub.APIURL, "github.api-url", c.GitHub.APIURL, "GitHub API base URL.")
	fs.IntVar(&c.GitHub.RetryMax, "github.retry-max", c.GitHub.RetryMax, "Retries for transient GitHub failures.")

	fs.StringVar(&c.Archive.Org, "archive.org", c.Archive.Org, "Organization segment of archive paths.")
	fs.StringVar(&c.Archive.LocalDir, "archive.local-dir", c.Archive.LocalDir, "Commit into this directory instead of GitHub.")
	fs.IntVar(&c.Archive.CommitConcurrency, "archive.commit-concurrency", c.Archive.CommitConcurrency, "Year files committed at once.")
	fs.BoolVar(&c.Archive.QuarantineMalformed, "archive.quarantine-malformed", c.Archive.QuarantineMalformed, "Skip records without a usable meeting date instead of failing.")
	fs.BoolVar(&c.Archive.DryRun, "archive.dry-run", c.Archive.DryRun, "Read and merge archive files without writing them.")

	fs.StringVar(&c.Metrics.PushGateway, "metrics.push-gateway", c.Metrics.PushGateway, "Prometheus Pushgateway URL.")
	fs.StringVar(&c.Metrics.Job, "metrics.job", c.Metrics.Job, "Pushgateway job name.")
	fs.StringVar(&c.Sentry.DSN, "sentry.dsn", c.Sentry.DSN, "Sentry DSN for error reporting.")

	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Enable debug logging.")
	fs.StringVar(&c.Listen, "listen", c.Listen, "Address the serve command listens on.")
}

// Load merges the config file named by the "config" flag, the environment
// and the flags into the values bound by Flags, then validates c. Flags
// set on the command line win over the environment, which wins over the
// file.
func (c *Config) Load(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := setAllConfig(v, fs); err != nil {
		return errors.WithCode(err, errors.ErrConfig, "loading configuration")
	}
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	return c.validate()
}

func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}

func (c *Config) validate() error {
	switch c.Source.Type {
	case SourcePostgres:
		if c.Source.ConnectionString == "" {
			return errors.New(errors.ErrConfig, "source.connection-string is required for the postgres source")
		}
	case SourceREST:
		if c.Source.URL == "" {
			return errors.New(errors.ErrConfig, "source.url is required for the rest source")
		}
	default:
		return errors.Newf(errors.ErrConfig, "unknown source.type %q", c.Source.Type)
	}
	if c.Source.Table == "" {
		c.Source.Table = "meetingsummaries"
	}
	if c.Archive.Org == "" {
		return errors.New(errors.ErrConfig, "archive.org is required")
	}
	if c.Archive.LocalDir == "" && (c.GitHub.Owner == "" || c.GitHub.Repo == "") {
		return errors.New(errors.ErrConfig, "github.owner and github.repo are required")
	}
	if c.Fetch.PageSize <= 0 {
		c.Fetch.PageSize = 100
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 10
	}
	if c.Fetch.Workers <= 0 {
		c.Fetch.Workers = 4
	}
	if c.Archive.CommitConcurrency <= 0 {
		c.Archive.CommitConcurrency = 1
	}
	if c.GitHub.RetryMax < 0 {
		c.GitHub.RetryMax = 0
	}
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = "https://api.github.com"
	}
	return nil
}
