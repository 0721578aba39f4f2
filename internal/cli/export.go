package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/ir"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <entity>",
		Short: "Write an entity's events as a batch another replica can ingest",
		Long: `Write every committed event of the entity as a JSON array, in
deterministic history order. The output is always the raw event array,
whatever --format says, so it can be fed straight to "lineage ingest".

Examples:
  lineage export 01890a5d-ac96-774b-bcce-b302099a8057 > batch.json
  lineage export 01890a5d-ac96-774b-bcce-b302099a8057 -o batch.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to file instead of stdout")

	return cmd
}

func runExport(opts *ExportOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	entity, err := parseEntity(f, arg)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, opts.RootOptions, f, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	events, err := rt.engine.History(ctx, entity)
	if err != nil {
		return f.Fail(ExitFailure, CodeBackend, "failed to read history", err)
	}

	if opts.Output == "" {
		return writeEventArray(cmd.OutOrStdout(), events)
	}

	file, err := os.Create(opts.Output)
	if err != nil {
		return f.Fail(ExitCommandError, CodeInput, "failed to create output file", err)
	}
	if err := writeEventArray(file, events); err != nil {
		file.Close()
		return f.Fail(ExitCommandError, CodeInput, "failed to write output file", err)
	}
	if err := file.Close(); err != nil {
		return f.Fail(ExitCommandError, CodeInput, "failed to write output file", err)
	}
	f.VerboseLog("exported %d events to %s", len(events), opts.Output)
	return nil
}

func writeEventArray(w io.Writer, events []ir.Event) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(events); err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	return nil
}
