// Package cmd implements the butler command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/butler/internal/butler"
	"github.com/zjrosen/butler/internal/config"
	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/lock"
	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/mapper"
	"github.com/zjrosen/butler/internal/tracing"
)

var version = "dev"

// localConfigPath is checked before the user config directory.
const localConfigPath = ".butler/config.yaml"

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	aliases []string
	cfg     config.Config
}

// NewRootCmd builds the command tree with its own configuration state.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "butler",
		Short: "Locate, read and write datasets in butler repositories",
		Long: `butler maps a dataset type and a data identifier such as visit=1 ccd=2
to storage locations in a repository and its parents, then reads or writes
the dataset there.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return c.loadConfig() },
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "",
		"config file (default: .butler/config.yaml, then ~/.config/butler/config.yaml)")
	pf.StringP("repo", "r", "", "output repository URL")
	pf.StringSliceP("input", "i", nil, "input repository URL (repeatable)")
	pf.Bool("persist", false, "store the resolved repository document in the output registry")
	pf.Bool("debug", false, "write a debug log")
	pf.StringArrayVar(&c.aliases, "alias", nil, "dataset type alias as @name=type (repeatable)")

	_ = c.v.BindPFlag("repo", pf.Lookup("repo"))
	_ = c.v.BindPFlag("inputs", pf.Lookup("input"))
	_ = c.v.BindPFlag("persist", pf.Lookup("persist"))
	_ = c.v.BindPFlag("log.debug", pf.Lookup("debug"))

	root.AddCommand(
		newGetCmd(c),
		newPutCmd(c),
		newListCmd(c),
		newLocateCmd(c),
		newKeysCmd(c),
		newTypesCmd(c),
		newConfigCmd(),
	)
	return root
}

func (c *cli) loadConfig() error {
	d := config.Defaults()
	c.v.SetDefault("repo", d.Repo)
	c.v.SetDefault("inputs", d.Inputs)
	c.v.SetDefault("persist", d.Persist)
	c.v.SetDefault("lock.timeout", d.Lock.Timeout)
	c.v.SetDefault("lock.poll_interval", d.Lock.PollInterval)
	c.v.SetDefault("cache.expiration", d.Cache.Expiration)
	c.v.SetDefault("watch.enabled", d.Watch.Enabled)
	c.v.SetDefault("watch.debounce", d.Watch.Debounce)
	c.v.SetDefault("log.debug", d.Log.Debug)
	c.v.SetDefault("log.path", d.Log.Path)
	c.v.SetDefault("log.level", d.Log.Level)
	c.v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	c.v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	c.v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	c.v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	c.v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	c.v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	c.v.SetEnvPrefix("BUTLER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	// Config lookup order:
	// 1. --config
	// 2. .butler/config.yaml (current directory)
	// 3. ~/.config/butler/config.yaml (user config)
	switch {
	case c.cfgFile != "":
		c.v.SetConfigFile(c.cfgFile)
	case fileExists(localConfigPath):
		c.v.SetConfigFile(localConfigPath)
	default:
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(filepath.Join(home, ".config", "butler"))
		}
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := c.v.Unmarshal(&c.cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := config.Validate(c.cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// withButler opens the configured repository, runs fn and releases
// everything opened for it.
func (c *cli) withButler(fn func(cmd *cobra.Command, b *butler.Butler, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
			cmd.SetContext(ctx)
		}

		if c.cfg.Log.Debug {
			cleanup, err := log.Init(c.cfg.Log.Path)
			if err != nil {
				return fmt.Errorf("opening debug log: %w", err)
			}
			defer cleanup()
			log.SetMinLevel(log.ParseLevel(c.cfg.Log.Level))
			log.Info(log.CatConfig, "butler starting", "repo", c.cfg.Repo, "inputs", len(c.cfg.Inputs))
		}

		provider, err := tracing.NewProvider(c.cfg.Tracing)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			if shutdownErr := provider.Shutdown(context.Background()); shutdownErr != nil {
				log.ErrorErr(log.CatConfig, "Tracing shutdown failed", shutdownErr)
			}
		}()

		factory := mapper.NewFactory(mapper.WithExpiration(c.cfg.Cache.Expiration))
		defer func() { _ = factory.Close() }()

		opts := []butler.Option{
			butler.WithFactory(factory),
			butler.WithInputs(c.cfg.Inputs...),
			butler.WithPersistence(c.cfg.Persist),
			butler.WithLockOptions(lock.WithTimeout(c.cfg.Lock.Timeout), lock.WithPollInterval(c.cfg.Lock.PollInterval)),
			butler.WithTracer(provider.Tracer()),
		}
		if c.cfg.Watch.Enabled {
			opts = append(opts, butler.WithWatch(c.cfg.Watch.Debounce))
		}
		b, err := butler.New(ctx, c.cfg.Repo, opts...)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, b.Close()) }()

		for _, a := range c.aliases {
			name, target, ok := strings.Cut(a, "=")
			if !ok {
				return fmt.Errorf("alias %q must look like @name=type", a)
			}
			if err := b.DefineAlias(name, target); err != nil {
				return err
			}
		}
		return fn(cmd, b, args)
	}
}

// parseDataID reads key=value arguments.
func parseDataID(args []string) (dataid.DataID, error) {
	id, err := dataid.Parse(args)
	if err != nil {
		return nil, fmt.Errorf("invalid data id: %w", err)
	}
	return id, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
}
