// Package battlemetrics resolves ARK: Survival Ascended official servers through the
// BattleMetrics public API: single lookups by id, directory search, and resolution of the
// short display numbers players use ("Official 4521").
package battlemetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/telemetry"
)

const (
	DefaultBaseURL = "https://api.battlemetrics.com"
	// ASAGameID is the BattleMetrics game relationship id for ARK: Survival Ascended.
	ASAGameID   = "48815"
	ASAGameSlug = "ark-survival-ascended"

	UserSearchPageSize   = 5
	NumberSearchPageSize = 10

	defaultTimeout = 10 * time.Second
)

// Server is the subset of a BattleMetrics server record the bot uses.
type Server struct {
	ID         string
	Name       string
	Status     string
	IP         string
	Port       int
	Players    int
	MaxPlayers int
	Official   bool
	GameID     string
}

// Online reports whether BattleMetrics lists the server as online.
func (s Server) Online() bool { return strings.EqualFold(s.Status, "online") }

// IsOfficial reports the official flag, falling back to the naming convention.
func (s Server) IsOfficial() bool {
	return s.Official || strings.Contains(strings.ToLower(s.Name), "official")
}

// Link returns the public BattleMetrics page for the server.
func (s Server) Link() string { return "https://www.battlemetrics.com/servers/asa/" + s.ID }

// Reading is the result of one status resolution.
type Reading struct {
	ServerID      string
	Name          string
	Online        bool
	Population    int
	MaxPopulation int
}

// Client talks to the BattleMetrics REST API. The zero value is usable.
type Client struct {
	BaseURL    string
	GameID     string
	GameSlug   string
	HTTPClient *http.Client
	// Timeout bounds every request. Expiry is reported as TransientUpstream.
	Timeout time.Duration
}

// NewClient returns a client. A non-empty token is sent as a bearer credential,
// which raises the BattleMetrics rate limit.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	c := &Client{BaseURL: baseURL, Timeout: timeout}
	if token != "" {
		c.HTTPClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	}
	return c
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *Client) gameID() string {
	if c.GameID != "" {
		return c.GameID
	}
	return ASAGameID
}

func (c *Client) gameSlug() string {
	if c.GameSlug != "" {
		return c.GameSlug
	}
	return ASAGameSlug
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

type serverResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Name       string          `json:"name"`
		Status     string          `json:"status"`
		IP         string          `json:"ip"`
		Port       int             `json:"port"`
		Players    json.RawMessage `json:"players"`
		MaxPlayers json.RawMessage `json:"maxPlayers"`
		Details    map[string]any  `json:"details"`
	} `json:"attributes"`
	Relationships struct {
		Game struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"game"`
	} `json:"relationships"`
}

func (r serverResource) toServer() Server {
	s := Server{
		ID:         r.ID,
		Name:       r.Attributes.Name,
		Status:     r.Attributes.Status,
		IP:         r.Attributes.IP,
		Port:       r.Attributes.Port,
		Players:    coerceCount(r.ID, "players", r.Attributes.Players),
		MaxPlayers: coerceCount(r.ID, "maxPlayers", r.Attributes.MaxPlayers),
		GameID:     r.Relationships.Game.Data.ID,
	}
	if v, ok := r.Attributes.Details["official"].(bool); ok {
		s.Official = v
	}
	return s
}

// coerceCount turns a player count into a non-negative int. Anything unparseable becomes 0.
func coerceCount(serverID, field string, raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return clampCount(int(f))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return clampCount(n)
		}
	}
	slog.Warn("unparseable player count, using 0",
		slog.String("component", "battlemetrics"),
		slog.String("server_id", serverID),
		slog.String("field", field),
		slog.String("raw", string(raw)))
	return 0
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// get performs exactly one GET and decodes a 2xx body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	u := c.base() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "build battlemetrics request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.TransientUpstream, "battlemetrics request failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := apperr.ClassifyHTTPStatus(resp.StatusCode)
		return apperr.Wrap(fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b))), kind, "battlemetrics returned an error")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.TransientUpstream, "decode battlemetrics response")
	}
	return nil
}

var errServerNotFound = apperr.New(apperr.NotFound, "That server was not found or is not available.")

// GetServer fetches one server by BattleMetrics id and verifies it belongs to the configured game.
func (c *Client) GetServer(ctx context.Context, id string) (Server, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Server{}, errServerNotFound
	}
	ctx, span := telemetry.StartSpan(ctx, "battlemetrics", "GetServer", attribute.String("server_id", id))
	defer span.End()

	start := time.Now()
	var body struct {
		Data serverResource `json:"data"`
	}
	err := c.get(ctx, "/servers/"+url.PathEscape(id), nil, &body)
	telemetry.ObserveResolve(time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
		if apperr.Is(err, apperr.NotFound) {
			return Server{}, apperr.Wrap(err, apperr.NotFound, errServerNotFound.Message)
		}
		return Server{}, err
	}
	srv := body.Data.toServer()
	if srv.ID == "" {
		srv.ID = id
	}
	if srv.GameID != c.gameID() {
		err := apperr.New(apperr.Unsupported, "That server is not an Ark: Survival Ascended server.")
		telemetry.RecordError(span, err)
		return Server{}, err
	}
	telemetry.SetSpanSuccess(span)
	return srv, nil
}

// Resolve performs one lookup and reduces it to a status reading.
func (c *Client) Resolve(ctx context.Context, id string) (Reading, error) {
	srv, err := c.GetServer(ctx, id)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		ServerID:      srv.ID,
		Name:          srv.Name,
		Online:        srv.Online(),
		Population:    srv.Players,
		MaxPopulation: srv.MaxPlayers,
	}, nil
}

// Search lists official servers of the configured game matching term. Zero matches is
// an empty slice, not an error.
func (c *Client) Search(ctx context.Context, term string, pageSize int) ([]Server, error) {
	if pageSize <= 0 {
		pageSize = UserSearchPageSize
	}
	q := url.Values{}
	q.Set("filter[game]", c.gameSlug())
	q.Set("filter[official]", "true")
	q.Set("filter[search]", term)
	q.Set("page[size]", strconv.Itoa(pageSize))

	var body struct {
		Data []serverResource `json:"data"`
	}
	if err := c.get(ctx, "/servers", q, &body); err != nil {
		return nil, err
	}
	out := make([]Server, 0, len(body.Data))
	for _, r := range body.Data {
		out = append(out, r.toServer())
	}
	return out, nil
}
