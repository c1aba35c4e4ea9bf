package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/onnwee/arkpop/aggregate"
	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/battlemetrics"
)

func commandList() []*Command {
	return []*Command{
		{Name: "pop", Usage: "<server id or number>", Help: "current population", MinArgs: 1, Run: runPop},
		{Name: "findasa", Usage: "<search term>", Help: "search official servers", MinArgs: 1, Run: runFindASA},
		{Name: "findserver", Usage: "<server number>", Help: "find a server by its number", MinArgs: 1, Run: runFindServer},
		{Name: "graphday", Usage: "<server id>", Help: "24 hour population", MinArgs: 1, Run: runGraphDay},
		{Name: "graphweek", Usage: "<server id>", Help: "7 day hourly averages", MinArgs: 1, Run: runGraphWeek},
		{Name: "addserverup", Aliases: []string{"watch", "monitorserver"}, Usage: "<server id or number>", Help: "whisper me when it comes online", MinArgs: 1, Run: runAddServerUp},
		{Name: "removeserverup", Aliases: []string{"unwatch"}, Usage: "<server id>", Help: "stop online notifications", MinArgs: 1, Run: runRemoveServerUp},
		{Name: "help", Aliases: []string{"commands"}, Help: "this list", Run: runHelp},
	}
}

func line(format string, args ...any) string { return fmt.Sprintf(format, args...) }

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func runPop(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	srv, err := d.Directory.LookupOfficial(ctx, req.Args[0])
	if err != nil {
		return Response{}, err
	}
	connect := "N/A"
	if srv.IP != "" {
		connect = fmt.Sprintf("%s:%d", srv.IP, srv.Port)
	}
	return Response{Lines: []string{
		line("%s Population | Server ID: %s", srv.Name, srv.ID),
		line("Status: %s | Players: %d/%d | Connect: %s", capitalize(orNA(srv.Status)), srv.Players, srv.MaxPlayers, connect),
		srv.Link(),
	}}, nil
}

func runFindASA(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	servers, err := d.Directory.Search(ctx, strings.Join(req.Args, " "), battlemetrics.UserSearchPageSize)
	if err != nil {
		return Response{}, err
	}
	if len(servers) == 0 {
		return Response{Lines: []string{"No Ark Official servers found for that search."}}, nil
	}
	lines := []string{"Matching Ark Official Servers:"}
	for _, s := range servers {
		lines = append(lines, line("%s (ID: %s) - %d/%d players", s.Name, s.ID, s.Players, s.MaxPlayers))
	}
	return Response{Lines: lines}, nil
}

func runFindServer(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	srv, ok, err := d.Directory.FindByNumber(ctx, req.Args[0])
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{Lines: []string{"Server not found."}}, nil
	}
	return Response{Lines: []string{
		line("Found server: %s", srv.Name),
		line("Population: %d/%d", srv.Players, srv.MaxPlayers),
	}}, nil
}

// ChartURL is the public link to a rendered chart, or "" when no base URL is configured.
func (d *Dispatcher) ChartURL(serverID, window string) string {
	if d.ChartBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/charts/%s/%s.png", d.ChartBaseURL, url.PathEscape(serverID), window)
}

// validID accepts BattleMetrics server ids, which are all digits. Chart links are only
// served for such ids.
func validID(id string) error {
	if id == "" || len(id) > 32 || strings.Trim(id, "0123456789") != "" {
		return apperr.New(apperr.NotFound, "Server IDs are numeric, for example 123456.")
	}
	return nil
}

func runGraphDay(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	id := req.Args[0]
	if err := validID(id); err != nil {
		return Response{}, err
	}
	now := d.now()
	samples, err := d.Samples.QueryWindow(ctx, id, now.Add(-aggregate.DailyWindow))
	if err != nil {
		return Response{}, apperr.Wrap(err, apperr.Internal, "query samples")
	}
	v, err := aggregate.Daily(samples, now, d.loc())
	if err != nil {
		return Response{}, err
	}
	resp := Response{
		Lines: []string{
			line("Daily Population Graph for %s", id),
			line("Highest Pop: %s", v.Max.Summary()),
			line("Lowest Pop: %s", v.Min.Summary()),
			line("Current: %d", v.Current),
		},
		ImageURL: d.ChartURL(id, "day"),
	}
	if resp.ImageURL != "" {
		resp.Lines = append(resp.Lines, "Chart: "+resp.ImageURL)
	}
	return resp, nil
}

func runGraphWeek(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	id := req.Args[0]
	if err := validID(id); err != nil {
		return Response{}, err
	}
	now := d.now()
	samples, err := d.Samples.QueryWindow(ctx, id, now.Add(-aggregate.WeeklyWindow))
	if err != nil {
		return Response{}, apperr.Wrap(err, apperr.Internal, "query samples")
	}
	v, err := aggregate.Weekly(samples, now, d.loc())
	if err != nil {
		return Response{}, err
	}
	resp := Response{
		Lines:    append([]string{line("Weekly Population Graph for %s", id)}, v.Lines()...),
		ImageURL: d.ChartURL(id, "week"),
	}
	if resp.ImageURL != "" {
		resp.Lines = append(resp.Lines, "Chart: "+resp.ImageURL)
	}
	return resp, nil
}

func runAddServerUp(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	if req.UserID == "" {
		return Response{}, apperr.New(apperr.Internal, "missing user id for notification target")
	}
	srv, err := d.Directory.LookupOfficial(ctx, req.Args[0])
	if err != nil {
		return Response{}, err
	}
	if err := d.Watcher.Watch(ctx, srv.ID, req.UserID); err != nil {
		return Response{}, apperr.Wrap(err, apperr.Internal, "add monitor")
	}
	return Response{Lines: []string{
		line("Server %s (%s) has been added for online notifications. I will whisper you when it comes back online.", srv.ID, srv.Name),
	}}, nil
}

func runRemoveServerUp(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	id := req.Args[0]
	if err := validID(id); err != nil {
		return Response{}, err
	}
	if err := d.Watcher.Unwatch(ctx, id); err != nil {
		return Response{}, apperr.Wrap(err, apperr.Internal, "remove monitor")
	}
	return Response{Lines: []string{line("Server %s removed from online notifications.", id)}}, nil
}

func runHelp(ctx context.Context, d *Dispatcher, req Request) (Response, error) {
	parts := make([]string, 0, len(d.commands))
	for _, c := range d.commands {
		p := d.Prefix + c.Name
		if c.Usage != "" {
			p += " " + c.Usage
		}
		parts = append(parts, p)
	}
	return Response{Lines: []string{"Commands: " + strings.Join(parts, " | ")}}, nil
}
