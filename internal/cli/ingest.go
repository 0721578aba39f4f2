package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/ir"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Session string
}

// OutcomeView is the CLI rendering of one applied event.
type OutcomeView struct {
	Event    ir.EventID  `json:"event"`
	Entity   ir.EntityID `json:"entity"`
	Relation string      `json:"relation,omitempty"`
	Known    bool        `json:"known,omitempty"`
	Head     ir.Clock    `json:"head"`
	Seq      int64       `json:"seq,omitempty"`
	Code     string      `json:"code,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// IngestResult is the output of the ingest command.
type IngestResult struct {
	Session  string        `json:"session"`
	Applied  int           `json:"applied"`
	Known    int           `json:"known"`
	Rejected int           `json:"rejected"`
	Outcomes []OutcomeView `json:"outcomes"`
}

func (r IngestResult) renderText(w io.Writer, verbose bool) {
	for _, o := range r.Outcomes {
		switch {
		case o.Code != "":
			fmt.Fprintf(w, "✗ %s %s: %s\n", o.Event.Short(), o.Code, o.Error)
		case o.Known:
			if verbose {
				fmt.Fprintf(w, "= %s already known\n", o.Event.Short())
			}
		default:
			fmt.Fprintf(w, "✓ %s %s head=%s\n", o.Event.Short(), o.Relation, o.Head)
		}
	}
	fmt.Fprintf(w, "\nSession %s: %d applied, %d known, %d rejected\n", r.Session, r.Applied, r.Known, r.Rejected)
}

func (r *IngestResult) add(outcomes []engine.Outcome) {
	for _, out := range outcomes {
		v := OutcomeView{
			Event:  out.Event,
			Entity: out.Entity,
			Known:  out.Known,
			Head:   out.Head,
			Seq:    out.Seq,
		}
		var ae *engine.ApplyError
		switch {
		case errors.As(out.Err, &ae):
			v.Code = string(ae.Code)
			v.Error = ae.Err.Error()
			r.Rejected++
		case out.Known:
			r.Known++
		default:
			v.Relation = out.Relation.String()
			r.Applied++
		}
		r.Outcomes = append(r.Outcomes, v)
	}
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Apply a batch of events received from another replica",
		Long: `Apply a JSON array of events, as written by "lineage export", in one
sync session. Events may arrive in any order and may reference each other.
Already-known events are skipped.

Exit codes:
  0 - Every event was applied or already known
  1 - At least one event was rejected, or the batch failed verification
  2 - Command error

Examples:
  lineage --db replica-a.db export 01890a5d-ac96-774b-bcce-b302099a8057 -o batch.json
  lineage --db replica-b.db ingest batch.json
  cat batch.json | lineage ingest - --session sync-42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "session token for log correlation (default: generated)")

	return cmd
}

func runIngest(opts *IngestOptions, source string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	events, err := readEvents(cmd, source)
	if err != nil {
		return f.Fail(ExitCommandError, CodeInput, "failed to read events", err)
	}

	rt, err := openRuntime(ctx, opts.RootOptions, f, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	session := opts.Session
	if session == "" {
		session = rt.engine.NewSession()
	}
	f.VerboseLog("ingesting %d events (session %s)", len(events), session)

	result := IngestResult{Session: session, Outcomes: []OutcomeView{}}
	for _, batch := range groupByEntity(events) {
		outcomes, err := rt.engine.Ingest(ctx, session, batch)
		if err != nil {
			return f.Fail(ExitFailure, CodeRejected, "batch rejected", err)
		}
		result.add(outcomes)
	}

	if result.Rejected > 0 {
		return f.Failure(CodeRejected, fmt.Sprintf("%d event(s) rejected", result.Rejected), result)
	}
	return f.Success(result)
}

// readEvents decodes a JSON array of events from a file or, for "-", stdin.
func readEvents(cmd *cobra.Command, source string) ([]ir.Event, error) {
	var r io.Reader
	if source == "-" {
		r = cmd.InOrStdin()
	} else {
		file, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}

	var events []ir.Event
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// groupByEntity splits events into per-entity batches, in first-seen order.
func groupByEntity(events []ir.Event) [][]ir.Event {
	index := make(map[ir.EntityID]int)
	var batches [][]ir.Event
	for _, ev := range events {
		i, ok := index[ev.EntityID]
		if !ok {
			i = len(batches)
			index[ev.EntityID] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], ev)
	}
	return batches
}
