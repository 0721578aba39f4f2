package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/config"
	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/kvstore"
	"github.com/roach88/lineage/internal/store"
)

// runtime is an opened backend and the engine over it.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	backend engine.Backend
	closer  io.Closer
	engine  *engine.Engine
}

// Close releases the backend.
func (rt *runtime) Close() {
	if err := rt.closer.Close(); err != nil {
		rt.logger.Error("error closing backend", "backend", rt.cfg.Backend, "error", err)
	}
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(opts *RootOptions, overrides ...func(*config.Config)) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return cfg, err
		}
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	for _, o := range overrides {
		o(&cfg)
	}
	return cfg, cfg.Validate()
}

// newLogger builds the slog logger described by cfg, writing to w.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// backendCloser is what both storage packages provide.
type backendCloser interface {
	engine.Backend
	io.Closer
}

// openBackend opens the configured storage engine.
func openBackend(cfg config.Config, logger *slog.Logger) (backendCloser, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		kv, err := kvstore.Open(cfg.KVStore(logger))
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// openRuntime loads configuration, opens the backend and builds the engine.
// Failures are reported through f and returned as ExitCommandError.
func openRuntime(ctx context.Context, opts *RootOptions, f *OutputFormatter, cmd *cobra.Command, overrides ...func(*config.Config)) (*runtime, error) {
	cfg, err := loadConfig(opts, overrides...)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeConfig, "failed to load configuration", err)
	}
	logger := newLogger(cfg.Log, cmd.ErrOrStderr())

	logger.Debug("opening backend", "backend", cfg.Backend, "path", cfg.Path)
	b, err := openBackend(cfg, logger)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeBackend, fmt.Sprintf("failed to open %s backend", cfg.Backend), err)
	}

	eng, err := engine.New(ctx, b,
		engine.WithLogger(logger),
		engine.WithComparatorOptions(cfg.Compare.ComparatorOptions()...))
	if err != nil {
		b.Close()
		return nil, f.Fail(ExitCommandError, CodeBackend, "failed to start engine", err)
	}

	return &runtime{cfg: cfg, logger: logger, backend: b, closer: b, engine: eng}, nil
}

// commandContext returns cmd's context, or Background when run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseEntity parses an entity argument, reporting failures through f.
func parseEntity(f *OutputFormatter, arg string) (ir.EntityID, error) {
	entity, err := ir.ParseEntityID(arg)
	if err != nil {
		return ir.EntityID{}, f.Fail(ExitCommandError, CodeInput, "invalid entity id", err)
	}
	return entity, nil
}

// eventView is the CLI rendering of an event.
type eventView struct {
	ID         ir.EventID `json:"id"`
	Precursors ir.Clock   `json:"precursors"`
	Payload    string     `json:"payload"`
}

func viewEvent(ev ir.Event) eventView {
	return eventView{ID: ev.ID, Precursors: ev.Precursors, Payload: displayPayload(ev.Payload)}
}

func viewEvents(events []ir.Event) []eventView {
	out := make([]eventView, len(events))
	for i, ev := range events {
		out[i] = viewEvent(ev)
	}
	return out
}

// displayPayload shows UTF-8 payloads as text and anything else as hex.
func displayPayload(p []byte) string {
	if utf8.Valid(p) {
		return string(p)
	}
	return fmt.Sprintf("0x%x", p)
}

func writeEvents(w io.Writer, events []eventView, verbose bool) {
	for _, ev := range events {
		if verbose {
			fmt.Fprintf(w, "%s %q precursors=%s\n", ev.ID, ev.Payload, ev.Precursors)
			continue
		}
		fmt.Fprintf(w, "%s %q\n", ev.ID.Short(), ev.Payload)
	}
}
