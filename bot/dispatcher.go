// Package bot maps chat commands to handlers over the directory client, the sample
// store and the status tracker. It is transport agnostic: a Request comes in, a
// Response with plain lines (and an optional chart link) goes out.
package bot

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/battlemetrics"
	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/telemetry"
)

// Directory is the server lookup surface the commands need.
type Directory interface {
	LookupOfficial(ctx context.Context, idOrNumber string) (battlemetrics.Server, error)
	Search(ctx context.Context, term string, pageSize int) ([]battlemetrics.Server, error)
	FindByNumber(ctx context.Context, number string) (battlemetrics.Server, bool, error)
}

// SampleStore is the slice of db.Store used by the graph commands.
type SampleStore interface {
	QueryWindow(ctx context.Context, serverID string, since time.Time) ([]db.Sample, error)
}

// Watcher registers and removes server-up notifications.
type Watcher interface {
	Watch(ctx context.Context, serverID, target string) error
	Unwatch(ctx context.Context, serverID string) error
}

// Request is one parsed chat command.
type Request struct {
	Command  string
	Args     []string
	UserID   string
	UserName string
	Channel  string
}

// Response is what the transport sends back, one chat message per line.
type Response struct {
	Lines    []string
	ImageURL string
}

// Command is one entry of the static command table.
type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	MinArgs int
	Run     func(ctx context.Context, d *Dispatcher, req Request) (Response, error)
}

// Dispatcher routes requests through the command table.
type Dispatcher struct {
	Directory Directory
	Samples   SampleStore
	Watcher   Watcher
	// Prefix is shown in usage and help text.
	Prefix string
	// ChartBaseURL is the public HTTP base for chart images. Empty disables chart links.
	ChartBaseURL string
	Location     *time.Location
	Now          func() time.Time

	commands []*Command
	table    map[string]*Command
}

// NewDispatcher builds a dispatcher with the full command table.
func NewDispatcher(dir Directory, samples SampleStore, watcher Watcher, prefix, chartBaseURL string) *Dispatcher {
	if prefix == "" {
		prefix = "!"
	}
	d := &Dispatcher{
		Directory:    dir,
		Samples:      samples,
		Watcher:      watcher,
		Prefix:       prefix,
		ChartBaseURL: strings.TrimRight(chartBaseURL, "/"),
		Location:     time.Local,
		Now:          time.Now,
	}
	d.commands = commandList()
	d.table = make(map[string]*Command)
	for _, c := range d.commands {
		d.table[c.Name] = c
		for _, a := range c.Aliases {
			d.table[a] = c
		}
	}
	return d
}

// Names lists every command name and alias, sorted.
func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.table))
	for k := range d.table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) loc() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.Local
}

func (d *Dispatcher) usage(c *Command) string {
	return "Usage: " + d.Prefix + c.Name + " " + c.Usage
}

// Handle runs req. ok is false when the command is not in the table, so transports
// can stay silent on unrelated chatter.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp Response, ok bool) {
	cmd, found := d.table[strings.ToLower(strings.TrimSpace(req.Command))]
	if !found {
		return Response{}, false
	}
	ctx, span := telemetry.StartSpan(ctx, "bot", "command", attribute.String("command", cmd.Name))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "bot"),
		slog.String("command", cmd.Name),
		slog.String("user", req.UserName),
	)

	args := cleanArgs(req.Args)
	if len(args) < cmd.MinArgs {
		telemetry.IncCommand(cmd.Name, "usage")
		return Response{Lines: []string{d.usage(cmd)}}, true
	}
	req.Args = args

	resp, err := cmd.Run(ctx, d, req)
	if err != nil {
		kind := apperr.KindOf(err)
		telemetry.RecordError(span, err)
		telemetry.IncCommand(cmd.Name, kind.String())
		if kind == apperr.Internal {
			logger.Error("command failed", slog.Any("err", err))
		} else {
			logger.Info("command refused", slog.String("kind", kind.String()), slog.Any("err", err))
		}
		return Response{Lines: []string{apperr.UserMessage(err)}}, true
	}
	telemetry.IncCommand(cmd.Name, "ok")
	telemetry.SetSpanSuccess(span)
	logger.Debug("command handled", slog.Int("lines", len(resp.Lines)))
	return resp, true
}

// cleanArgs drops empty arguments and strips the backticks people paste around ids.
func cleanArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		a = strings.Trim(strings.TrimSpace(a), "`")
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
