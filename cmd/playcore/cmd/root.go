// Package cmd implements the playcore command line.
package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zsiec/playcore/internal/bookmark"
	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/pkg/version"
)

// app carries what the persistent pre-run loads for every subcommand.
type app struct {
	cfg *config.Config
	log *logrus.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:     "playcore",
		Short:   "Media playback synchronization engine",
		Version: version.GetInfo().Short(),
		Long: `playcore demuxes a title into audio, video and subtitle streams,
keeps them on a shared presentation clock and handles seeking, trick play
and edit decision lists.

Configuration is read from an optional YAML file and PLAYCORE_ environment
variables, e.g. PLAYCORE_SERVER_HTTP_PORT=9090.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to configuration file")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.load(cmd)
	}

	root.AddCommand(
		newServeCommand(a),
		newPlayCommand(a),
		newEDLCommand(),
		newVersionCommand(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	path := lo.Must(cmd.Flags().GetString("config"))
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = lo.Must(cmd.Flags().GetString("log-level"))
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = log
	log.WithField("config_path", path).Debug("Configuration loaded")
	return nil
}

// adapter adapts the process logger for internal packages.
func (a *app) adapter() logger.Logger {
	return logger.NewLogrusAdapter(logrus.NewEntry(a.log))
}

// redisClient connects to the first configured Redis address. It returns
// nil when bookmarks are not kept in Redis.
func (a *app) redisClient() *redis.Client {
	if !a.cfg.Bookmarks.Enabled || a.cfg.Bookmarks.Store != "redis" {
		return nil
	}
	r := a.cfg.Redis
	return redis.NewClient(&redis.Options{
		Addr:         r.Addresses[0],
		Password:     r.Password,
		DB:           r.DB,
		MaxRetries:   r.MaxRetries,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
	})
}

// bookmarkStore picks the configured store, or nil when disabled.
func (a *app) bookmarkStore(client *redis.Client) bookmark.Store {
	switch {
	case !a.cfg.Bookmarks.Enabled:
		return nil
	case client != nil:
		return bookmark.NewRedisStore(client, a.cfg.Bookmarks.KeyPrefix, a.cfg.Bookmarks.TTL, a.adapter())
	default:
		return bookmark.NewMemoryStore()
	}
}
