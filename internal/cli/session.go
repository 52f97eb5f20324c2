package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/recordkit/internal/otel"
	"github.com/mesh-intelligence/recordkit/internal/paths"
	"github.com/mesh-intelligence/recordkit/internal/sqlite"
	"github.com/mesh-intelligence/recordkit/internal/telemetry"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// session is an attached store plus the logger and telemetry behind it.
type session struct {
	store    *sqlite.Backend
	log      *slog.Logger
	config   types.Config
	provider *otel.Provider
	logFile  io.Closer
}

// resolveConfig loads the configuration and fills in the data directory.
func resolveConfig() (types.Config, otel.Config, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return types.Config{}, otel.Config{}, err
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return types.Config{}, otel.Config{}, err
	}
	cfg, oc, err := settings(v)
	if err != nil {
		return cfg, oc, err
	}
	cfg.DataDir, err = paths.ResolveDataDir(flags.dataDir, cfg.DataDir)
	if err != nil {
		return cfg, oc, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg.WithDefaults(), oc, nil
}

func openSession(ctx context.Context) (*session, error) {
	cfg, oc, err := resolveConfig()
	if err != nil {
		return nil, err
	}

	log, logFile, err := telemetry.NewLogger(cfg.DataDir, cfg.LogLevel, flags.logLevel == "")
	if err != nil {
		return nil, err
	}
	provider, err := otel.Init(ctx, oc)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	store, err := sqlite.Open(cfg, sqlite.WithLogger(log), sqlite.WithTracer(provider.Tracer))
	if err != nil {
		log.Error("attach failed", "data_dir", cfg.DataDir, "error", err)
		_ = provider.Shutdown(ctx)
		logFile.Close()
		return nil, err
	}
	return &session{store: store, log: log, config: cfg, provider: provider, logFile: logFile}, nil
}

func (s *session) close(ctx context.Context) error {
	return errors.Join(
		s.store.Detach(),
		s.provider.Shutdown(ctx),
		s.logFile.Close(),
	)
}

// withSession wraps a command body with an attached store that is detached
// when the body returns.
func withSession(fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
			cmd.SetContext(ctx)
		}
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, s.close(ctx))
		}()
		return fn(cmd, args, s)
	}
}
