// Package cmd provides the CLI commands for agendex.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/byraadsarkiv/agendex/internal/profiling"
	"github.com/byraadsarkiv/agendex/pkg/version"
)

var (
	configPath string
	dataDir    string
	logLevel   string

	profileCPU string
	profileMem string
	stopCPU    func()
)

// NewRootCmd creates the root command for the agendex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agendex",
		Short: "Hybrid search over council meeting documents",
		Long: `Agendex ingests agendas, minutes and attachments from a council
publication feed and answers hybrid queries that combine BM25
keyword scoring with approximate nearest-neighbor vector search.

The document store is the source of truth; both indexes can be
rebuilt from it at any time with 'agendex rebuild'.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("agendex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to agendex.yaml (defaults apply when omitted)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override storage.data_dir")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write a heap profile to this file on exit")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfiling(_ *cobra.Command, _ []string) error {
	if profileCPU == "" {
		return nil
	}
	stop, err := profiling.StartCPU(profileCPU)
	if err != nil {
		return err
	}
	stopCPU = stop
	return nil
}

func stopProfiling(_ *cobra.Command, _ []string) error {
	if stopCPU != nil {
		stopCPU()
		stopCPU = nil
	}
	if profileMem != "" {
		return profiling.WriteHeap(profileMem)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
