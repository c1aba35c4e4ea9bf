package battlemetrics

import (
	"context"
	"regexp"
	"strings"

	"github.com/onnwee/arkpop/apperr"
)

// numberPattern matches the official naming convention <REGION>-<MODE>-Official-<MAP><number>.
func numberPattern(number string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^[A-Z]{2}-(PVE|PVP)-Official-.*` + regexp.QuoteMeta(number) + `\b`)
}

// MatchNumber picks the server a display number refers to: the first naming-convention
// match, else the first name containing the number, else false.
func MatchNumber(servers []Server, number string) (Server, bool) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Server{}, false
	}
	re := numberPattern(number)
	for _, s := range servers {
		if re.MatchString(s.Name) {
			return s, true
		}
	}
	for _, s := range servers {
		if strings.Contains(s.Name, number) {
			return s, true
		}
	}
	return Server{}, false
}

// FindByNumber searches the directory for "Official <number>". A miss is (zero, false, nil).
func (c *Client) FindByNumber(ctx context.Context, number string) (Server, bool, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Server{}, false, nil
	}
	servers, err := c.Search(ctx, "Official "+number, NumberSearchPageSize)
	if err != nil {
		return Server{}, false, err
	}
	s, ok := MatchNumber(servers, number)
	return s, ok, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// LookupOfficial accepts either a BattleMetrics id or a display number and returns the
// full record of an official server of the configured game. Refusals are Unsupported
// errors with distinct messages; misses are NotFound.
func (c *Client) LookupOfficial(ctx context.Context, idOrNumber string) (Server, error) {
	idOrNumber = strings.TrimSpace(idOrNumber)
	var firstErr error
	if isDigits(idOrNumber) {
		srv, err := c.GetServer(ctx, idOrNumber)
		if err == nil {
			return checkOfficial(srv)
		}
		if apperr.IsTransient(err) {
			return Server{}, err
		}
		firstErr = err
	}

	found, ok, err := c.FindByNumber(ctx, idOrNumber)
	if err != nil {
		return Server{}, err
	}
	if !ok {
		if apperr.Is(firstErr, apperr.Unsupported) {
			return Server{}, firstErr
		}
		return Server{}, errServerNotFound
	}
	srv, err := c.GetServer(ctx, found.ID)
	if err != nil {
		return Server{}, err
	}
	return checkOfficial(srv)
}

func checkOfficial(srv Server) (Server, error) {
	if !srv.IsOfficial() {
		return Server{}, apperr.New(apperr.Unsupported, "That server is not an official server.")
	}
	return srv, nil
}
