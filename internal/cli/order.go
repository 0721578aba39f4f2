package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/ir"
)

// EventListResult is the output of the order and log commands.
type EventListResult struct {
	Entity ir.EntityID `json:"entity"`
	Events []eventView `json:"events"`
}

func (r EventListResult) renderText(w io.Writer, verbose bool) {
	if len(r.Events) == 0 {
		fmt.Fprintf(w, "No events for %s.\n", r.Entity)
		return
	}
	writeEvents(w, r.Events, verbose)
}

// NewOrderCommand creates the order command.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order <entity>",
		Short: "List the entity's head events in deterministic order",
		Long: `List the events of the entity's current head in the order every
replica computes independently: ascending history depth, then ascending id.

Example:
  lineage order 01890a5d-ac96-774b-bcce-b302099a8057`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventList(rootOpts, args[0], false, cmd)
		},
	}
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log <entity>",
		Short: "List the entity's whole history in deterministic order",
		Long: `List every committed event of the entity, ordered by history depth and
then id. Replicas holding the same events print the same log regardless of
the order they received them in.

Example:
  lineage log 01890a5d-ac96-774b-bcce-b302099a8057 --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventList(rootOpts, args[0], true, cmd)
		},
	}
}

func runEventList(opts *RootOptions, arg string, history bool, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	entity, err := parseEntity(f, arg)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, opts, f, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	var events []ir.Event
	if history {
		events, err = rt.engine.History(ctx, entity)
	} else {
		events, err = rt.engine.Order(ctx, entity)
	}
	if err != nil {
		return f.Fail(ExitFailure, CodeBackend, "failed to order events", err)
	}

	return f.Success(EventListResult{Entity: entity, Events: viewEvents(events)})
}

// HeadView is one entity's current head.
type HeadView struct {
	Entity ir.EntityID `json:"entity"`
	Head   ir.Clock    `json:"head"`
}

// HeadsResult is the output of the heads command.
type HeadsResult struct {
	Heads []HeadView `json:"heads"`
}

func (r HeadsResult) renderText(w io.Writer, verbose bool) {
	if len(r.Heads) == 0 {
		fmt.Fprintln(w, "No entities.")
		return
	}
	for _, h := range r.Heads {
		if verbose {
			fmt.Fprintf(w, "%s %v\n", h.Entity, h.Head.Strings())
			continue
		}
		fmt.Fprintf(w, "%s %s\n", h.Entity, h.Head)
	}
}

// NewHeadsCommand creates the heads command.
func NewHeadsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "heads [entity]",
		Short: "Show current heads",
		Long: `Show the current head of one entity, or of every entity when none is given.

Examples:
  lineage heads
  lineage heads 01890a5d-ac96-774b-bcce-b302099a8057 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeads(rootOpts, args, cmd)
		},
	}
}

func runHeads(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	var entities []ir.EntityID
	if len(args) == 1 {
		entity, err := parseEntity(f, args[0])
		if err != nil {
			return err
		}
		entities = append(entities, entity)
	}

	rt, err := openRuntime(ctx, opts, f, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if entities == nil {
		if entities, err = rt.backend.Entities(ctx); err != nil {
			return f.Fail(ExitFailure, CodeBackend, "failed to list entities", err)
		}
	}

	result := HeadsResult{Heads: make([]HeadView, 0, len(entities))}
	for _, entity := range entities {
		head, err := rt.engine.Head(ctx, entity)
		if err != nil {
			return f.Fail(ExitFailure, CodeBackend, "failed to read head", err)
		}
		result.Heads = append(result.Heads, HeadView{Entity: entity, Head: head})
	}
	return f.Success(result)
}
