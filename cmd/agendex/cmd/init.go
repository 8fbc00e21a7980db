package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/byraadsarkiv/agendex/configs"
	"github.com/byraadsarkiv/agendex/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Write the built-in default configuration to agendex.yaml (or the
given path) and create the data directory. Edit the file to point
source.base_url at the council publication feed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "agendex.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if dataDir == "" {
				// No overrides: ship the annotated template so the
				// generated file documents every knob.
				if err := os.WriteFile(path, configs.Example(), 0o644); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			} else {
				cfg.Storage.DataDir = dataDir
				if err := cfg.Save(path); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (data dir: %s)\n", path, cfg.Storage.DataDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
