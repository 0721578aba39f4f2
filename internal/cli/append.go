package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/ir"
)

// AppendResult is the output of the append command.
type AppendResult struct {
	Entity ir.EntityID `json:"entity"`
	Event  eventView   `json:"event"`
	Seq    int64       `json:"seq"`
}

func (r AppendResult) renderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Appended %s to %s (seq %d)\n", r.Event.ID.Short(), r.Entity, r.Seq)
	if verbose {
		fmt.Fprintf(w, "  id:         %s\n", r.Event.ID)
		fmt.Fprintf(w, "  precursors: %s\n", r.Event.Precursors)
	}
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "append <entity|new> [payload]",
		Short: "Append a local event to an entity",
		Long: `Append a local event to an entity's history.

The new event's precursors are the entity's current head, and it becomes the
new head. Use "new" to start a fresh entity. Without a payload argument the
payload is read from stdin.

Examples:
  lineage append new "created"
  lineage append 01890a5d-ac96-774b-bcce-b302099a8057 "renamed"
  echo -n '{"op":"set"}' | lineage append 01890a5d-ac96-774b-bcce-b302099a8057`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(rootOpts, args, cmd)
		},
	}
}

func runAppend(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	var entity ir.EntityID
	if args[0] == "new" {
		entity = ir.NewEntityID()
	} else {
		var err error
		if entity, err = parseEntity(f, args[0]); err != nil {
			return err
		}
	}

	var payload []byte
	if len(args) == 2 {
		payload = []byte(args[1])
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return f.Fail(ExitCommandError, CodeInput, "failed to read payload", err)
		}
		payload = data
	}

	rt, err := openRuntime(ctx, opts, f, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ev, err := rt.engine.Create(ctx, entity, payload)
	if err != nil {
		return f.Fail(ExitFailure, CodeBackend, "failed to append event", err)
	}

	return f.Success(AppendResult{Entity: entity, Event: viewEvent(ev), Seq: rt.engine.Seq()})
}
