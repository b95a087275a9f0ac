package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fazpi-ai/fazpi-qbull/internal/config"
	"github.com/fazpi-ai/fazpi-qbull/pkg/log"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store/embedded"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store/postgres"
	redisstore "github.com/fazpi-ai/fazpi-qbull/pkg/store/redis"
)

// Version is stamped by the build.
var Version = "dev"

// NewRootCommand constructs the qbull command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "qbull",
		Short: "qbull stream work-queue CLI",
		Long:  "qbull publishes work items into durable streams and consumes them with consumer groups.",
	}
	rootCmd.PersistentFlags().String("backend", "redis", "Store backend: redis, embedded, postgres")
	rootCmd.PersistentFlags().String("data-dir", "./qbull-data", "Data directory for the embedded backend")

	rootCmd.AddCommand(
		newPublishCommand(),
		newConsumeCommand(),
		newKVCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// appEnv bundles the pieces every command needs.
type appEnv struct {
	cfg    config.Config
	logger log.Logger
	store  *store.SharedStore
}

// buildEnv loads the ambient configuration, builds the logger, and constructs
// the shared store with the selected backend. It does not connect.
func buildEnv(cmd *cobra.Command) (*appEnv, error) {
	cfg, err := config.Load(config.ActiveProfile())
	if err != nil {
		return nil, err
	}

	logger := log.ApplyConfig(log.Config{
		Level:        cfg.Log.Level,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
	})

	backend, _ := cmd.Flags().GetString("backend")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	var dialer store.Dialer
	switch backend {
	case "redis":
		dialer = redisstore.Dial
	case "embedded":
		dialer = embedded.Dial(dataDir)
	case "postgres":
		dialer = postgres.Dial
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	shared := store.NewSharedStore(
		store.WithDialer(dialer),
		store.WithLogger(logger),
		store.WithDefaultConfig(store.Config{
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			DB:       cfg.Store.DB,
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
		}),
	)

	return &appEnv{cfg: cfg, logger: logger, store: shared}, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the qbull version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "qbull", Version)
		},
	}
}
