package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/ir"
)

// maxRequestLine bounds one JSON request line on the run stream.
const maxRequestLine = 16 << 20

// RunRequest is one line of the run command's input stream.
type RunRequest struct {
	Type    string     `json:"type"` // "create" or "ingest"
	Session string     `json:"session,omitempty"`
	Entity  string     `json:"entity,omitempty"`  // create: entity id or "new"
	Payload string     `json:"payload,omitempty"` // create
	Events  []ir.Event `json:"events,omitempty"`  // ingest
}

// RunReply is written for every request line, in input order.
type RunReply struct {
	Line     int           `json:"line"`
	Type     string        `json:"type"`
	Entity   string        `json:"entity,omitempty"`
	Event    *eventView    `json:"event,omitempty"`
	Outcomes []OutcomeView `json:"outcomes,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the single-writer engine loop over a request stream",
		Long: `Start the engine's single-writer loop and feed it requests read from
stdin, one JSON object per line:

  {"type":"create","entity":"new","payload":"created"}
  {"type":"ingest","session":"sync-7","events":[...]}

Every request gets one reply line on stdout, in input order. The loop stops
at end of input or on SIGINT/SIGTERM.

Example:
  lineage run --db ./lineage.db < requests.jsonl
  lineage run --db ./lineage.db --format json --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(rootOpts, cmd)
		},
	}
}

func runEngine(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	rt, err := openRuntime(ctx, opts, f, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			rt.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	lines := make(chan string)
	go scanLines(ctx, cmd.InOrStdin(), lines, rt)

	rt.logger.Info("engine loop starting", "backend", rt.cfg.Backend, "path", rt.cfg.Path)
	f.VerboseLog("Engine started. Reading requests from stdin...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.engine.Run(gctx)
	})
	g.Go(func() error {
		defer rt.engine.Stop()
		return dispatch(gctx, rt.engine, lines, f)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return f.Fail(ExitFailure, CodeBackend, "engine error", err)
	}

	rt.logger.Info("engine stopped gracefully", "seq", rt.engine.Seq())
	return nil
}

// scanLines feeds non-blank input lines to out and closes it at end of
// input. It is not joined: a blocked read must not hold up shutdown.
func scanLines(ctx context.Context, r io.Reader, out chan<- string, rt *runtime) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxRequestLine)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		rt.logger.Error("reading requests", "error", err)
	}
}

// dispatch enqueues one submission per line and writes its reply before
// reading the next, so replies come out in input order.
func dispatch(ctx context.Context, eng *engine.Engine, lines <-chan string, f *OutputFormatter) error {
	n := 0
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}
		n++
		if strings.TrimSpace(line) == "" {
			continue
		}

		reply := RunReply{Line: n}
		sub, err := parseRequest(line, &reply)
		if err != nil {
			reply.Error = err.Error()
			if err := writeReply(f, reply); err != nil {
				return err
			}
			continue
		}

		results := make(chan engine.Result, 1)
		sub.Reply = results
		if !eng.Enqueue(sub) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			fillReply(&reply, res)
		}
		if err := writeReply(f, reply); err != nil {
			return err
		}
	}
}

func parseRequest(line string, reply *RunReply) (engine.Submission, error) {
	var req RunRequest
	decoder := json.NewDecoder(strings.NewReader(line))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return engine.Submission{}, fmt.Errorf("invalid request: %w", err)
	}
	reply.Type = req.Type

	switch req.Type {
	case "create":
		var entity ir.EntityID
		if req.Entity == "new" {
			entity = ir.NewEntityID()
		} else {
			var err error
			if entity, err = ir.ParseEntityID(req.Entity); err != nil {
				return engine.Submission{}, err
			}
		}
		reply.Entity = entity.String()
		return engine.Submission{
			Type:    engine.SubmitCreate,
			Session: req.Session,
			Entity:  entity,
			Payload: []byte(req.Payload),
		}, nil
	case "ingest":
		if len(req.Events) == 0 {
			return engine.Submission{}, fmt.Errorf("ingest request has no events")
		}
		if len(groupByEntity(req.Events)) > 1 {
			return engine.Submission{}, fmt.Errorf("ingest request mixes entities")
		}
		return engine.Submission{
			Type:    engine.SubmitIngest,
			Session: req.Session,
			Events:  req.Events,
		}, nil
	default:
		return engine.Submission{}, fmt.Errorf("unknown request type %q", req.Type)
	}
}

func fillReply(reply *RunReply, res engine.Result) {
	if res.Err != nil {
		reply.Error = res.Err.Error()
		return
	}
	if reply.Type == "create" {
		ev := viewEvent(res.Created)
		reply.Event = &ev
		return
	}
	var ingest IngestResult
	ingest.add(res.Outcomes)
	reply.Outcomes = ingest.Outcomes
}

func writeReply(f *OutputFormatter, reply RunReply) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(reply)
	}

	w := f.Writer
	switch {
	case reply.Error != "":
		fmt.Fprintf(w, "✗ line %d: %s\n", reply.Line, reply.Error)
	case reply.Event != nil:
		fmt.Fprintf(w, "✓ line %d: created %s on %s\n", reply.Line, reply.Event.ID.Short(), reply.Entity)
	default:
		var applied, rejected int
		for _, o := range reply.Outcomes {
			if o.Code != "" {
				rejected++
			} else if !o.Known {
				applied++
			}
		}
		fmt.Fprintf(w, "✓ line %d: ingested %d events (%d applied, %d rejected)\n", reply.Line, len(reply.Outcomes), applied, rejected)
	}
	return nil
}
