package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/config"
	"github.com/roach88/lineage/internal/ir"
)

// CompareOptions holds flags for the compare command.
type CompareOptions struct {
	*RootOptions
	Budget        int
	MaxEscalation int
}

// CompareResult is the output of the compare command.
type CompareResult struct {
	Entity      ir.EntityID      `json:"entity"`
	A           ir.Clock         `json:"a"`
	B           ir.Clock         `json:"b"`
	Relation    causal.Relation  `json:"relation"`
	Reason      string           `json:"reason,omitempty"`
	Steps       int              `json:"steps"`
	Visited     int              `json:"visited"`
	Escalations int              `json:"escalations"`
	Trace       []causal.Attempt `json:"trace,omitempty"`
	Pruned      []ir.EventID     `json:"pruned,omitempty"`
}

func (r CompareResult) renderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "%s %s %s\n", r.A, r.Relation, r.B)
	if r.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", r.Reason)
	}
	if !verbose {
		return
	}
	fmt.Fprintf(w, "  steps: %d, visited: %d, escalations: %d\n", r.Steps, r.Visited, r.Escalations)
	for _, a := range r.Trace {
		fmt.Fprintf(w, "  budget %d: %s after %d steps\n", a.Budget, a.Outcome, a.Steps)
	}
	if len(r.Pruned) > 0 {
		fmt.Fprintf(w, "  pruned: %s\n", ir.NewClock(r.Pruned...))
	}
}

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompareOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compare <entity> <clock-a> <clock-b>",
		Short: "Report how two clocks of an entity relate",
		Long: `Report the causal relation of clock A to clock B.

A clock is a comma-separated list of event ids, "head" for the entity's
current head, or "" for the empty clock. The relation is one of equal,
descends, precedes, concurrent or indeterminate.

Exit codes:
  0 - A verdict was reached
  1 - The comparison was indeterminate
  2 - Command error

Examples:
  lineage compare 01890a5d-ac96-774b-bcce-b302099a8057 head 9f6eb169...
  lineage compare 01890a5d-ac96-774b-bcce-b302099a8057 a1...,b1... head --budget 50`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Budget, "budget", 0, "base step budget, overrides config")
	cmd.Flags().IntVar(&opts.MaxEscalation, "max-escalation", 0, "escalation cap as a multiple of the budget, overrides config")

	return cmd
}

func runCompare(opts *CompareOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	entity, err := parseEntity(f, args[0])
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, opts.RootOptions, f, cmd, func(cfg *config.Config) {
		if opts.Budget > 0 {
			cfg.Compare.Budget = opts.Budget
		}
		if opts.MaxEscalation > 0 {
			cfg.Compare.MaxEscalation = opts.MaxEscalation
		}
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	var clocks [2]ir.Clock
	for i, arg := range args[1:] {
		if clocks[i], err = resolveClock(ctx, rt, entity, arg); err != nil {
			return f.Fail(ExitCommandError, CodeInput, fmt.Sprintf("invalid clock %q", arg), err)
		}
	}

	cmp, err := rt.engine.Comparator().Compare(ctx, entity, clocks[0], clocks[1])
	if err != nil {
		return f.Fail(ExitFailure, CodeIndeterminate, "comparison cancelled", err)
	}

	result := CompareResult{
		Entity:      entity,
		A:           clocks[0],
		B:           clocks[1],
		Relation:    cmp.Relation,
		Steps:       cmp.Steps,
		Visited:     cmp.Visited,
		Escalations: cmp.Escalations(),
		Trace:       cmp.Trace,
		Pruned:      cmp.Pruned,
	}
	if cmp.Reason != nil {
		result.Reason = cmp.Reason.Error()
	}

	if cmp.Relation == causal.Indeterminate {
		return f.Failure(CodeIndeterminate, "comparison indeterminate", result)
	}
	return f.Success(result)
}

// resolveClock parses a clock argument; "head" reads the entity's head.
func resolveClock(ctx context.Context, rt *runtime, entity ir.EntityID, arg string) (ir.Clock, error) {
	if strings.EqualFold(strings.TrimSpace(arg), "head") {
		return rt.engine.Head(ctx, entity)
	}
	return ir.ParseClock(arg)
}
