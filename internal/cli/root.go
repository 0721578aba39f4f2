package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/config"
	"github.com/roach88/lineage/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is an optional .yaml/.yml/.cue configuration file.
	Config string

	// Backend and Database override the configured storage when set.
	Backend  string
	Database string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lineage CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "lineage",
		Version: ir.EngineVersion,
		Short:   "lineage - causal event history for replicated entities",
		Long: `lineage stores per-entity event histories as content-addressed DAGs
and decides how any two states relate: equal, descends, precedes, concurrent,
or indeterminate when the history needed to decide is out of reach.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			switch opts.Backend {
			case "", config.BackendSQLite, config.BackendBadger:
			default:
				return fmt.Errorf("invalid backend %q: must be %s or %s", opts.Backend, config.BackendSQLite, config.BackendBadger)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "configuration file (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (sqlite|badger), overrides config")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path, overrides config")

	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewCompareCommand(opts))
	cmd.AddCommand(NewOrderCommand(opts))
	cmd.AddCommand(NewHeadsCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
