package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/recordkit/internal/paths"
	"github.com/mesh-intelligence/recordkit/internal/sqlite"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize recordkit storage",
		Long:  "Create the configuration and data directories, write a default config.yaml,\nthen create the database file.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := writeConfigIfMissing(filepath.Join(configDir, configFileExt), flags.dataDir); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	cfg, _, err := resolveConfig()
	if err != nil {
		return err
	}
	store := sqlite.NewBackend()
	if err := store.Attach(cfg); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	path := store.Path()
	if err := store.Detach(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}

	if flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), map[string]string{"config_dir": configDir, "database": path})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recordkit initialized\nconfig: %s\ndatabase: %s\n", configDir, path)
	return nil
}
