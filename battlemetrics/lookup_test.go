package battlemetrics

import (
	"context"
	"net/http"
	"testing"

	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/testutil"
)

func TestMatchNumber(t *testing.T) {
	tests := []struct {
		name    string
		servers []string
		number  string
		want    string
		wantOK  bool
	}{
		{
			name:    "convention match beats earlier substring",
			servers: []string{"Bob's 4521 Tavern", "US-PVE-Official-Ragnarok4521"},
			number:  "4521",
			want:    "US-PVE-Official-Ragnarok4521",
			wantOK:  true,
		},
		{
			name:    "case insensitive",
			servers: []string{"eu-pvp-official-theisland4521"},
			number:  "4521",
			want:    "eu-pvp-official-theisland4521",
			wantOK:  true,
		},
		{
			name:    "substring fallback",
			servers: []string{"Bob's 4521 Tavern"},
			number:  "4521",
			want:    "Bob's 4521 Tavern",
			wantOK:  true,
		},
		{
			name:    "word boundary rejects longer number, substring still finds it",
			servers: []string{"US-PVE-Official-Ragnarok45210"},
			number:  "4521",
			want:    "US-PVE-Official-Ragnarok45210",
			wantOK:  true,
		},
		{
			name:    "boundary match preferred over longer number",
			servers: []string{"US-PVE-Official-Ragnarok45210", "US-PVE-Official-Ragnarok4521"},
			number:  "4521",
			want:    "US-PVE-Official-Ragnarok4521",
			wantOK:  true,
		},
		{
			name:    "none",
			servers: []string{"US-PVE-Official-Ragnarok1000"},
			number:  "4521",
			wantOK:  false,
		},
		{
			name:    "empty number",
			servers: []string{"anything"},
			number:  " ",
			wantOK:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var servers []Server
			for i, n := range tt.servers {
				servers = append(servers, Server{ID: string(rune('a' + i)), Name: n})
			}
			got, ok := MatchNumber(servers, tt.number)
			if ok != tt.wantOK {
				t.Fatalf("MatchNumber() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Name != tt.want {
				t.Errorf("MatchNumber() = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestFindByNumber(t *testing.T) {
	m := testutil.NewMockBattleMetrics(t,
		testutil.MockServer{ID: "1", Name: "US-PVE-Official-Ragnarok4521", Status: "online", Official: true},
		testutil.MockServer{ID: "2", Name: "Bob's 4521 Tavern", Status: "online"},
	)
	c := newTestClient(m)

	srv, ok, err := c.FindByNumber(context.Background(), "4521")
	if err != nil || !ok {
		t.Fatalf("FindByNumber() = %v, %v", ok, err)
	}
	if srv.ID != "1" {
		t.Errorf("FindByNumber() id = %s, want 1", srv.ID)
	}
	if len(m.Searches) != 1 || m.Searches[0] != "Official 4521" {
		t.Errorf("searches = %v", m.Searches)
	}

	_, ok, err = c.FindByNumber(context.Background(), "9999")
	if err != nil || ok {
		t.Errorf("FindByNumber(miss) = %v, %v; want false, nil", ok, err)
	}
}

func TestLookupOfficial(t *testing.T) {
	m := testutil.NewMockBattleMetrics(t,
		testutil.MockServer{ID: "100", Name: "US-PVE-Official-Ragnarok4521", Status: "online", Official: true},
		testutil.MockServer{ID: "200", Name: "Casual Fun 7000", Status: "online"},
		testutil.MockServer{ID: "300", Name: "Some Rust Box", Status: "online", GameID: "rust"},
		testutil.MockServer{ID: "400", Name: "NA-PVP-SmallTribes-Official-Center3344", Status: "online"},
	)
	m.Fail("503", http.StatusServiceUnavailable)
	c := newTestClient(m)

	tests := []struct {
		name     string
		input    string
		wantID   string
		wantKind apperr.Kind
		wantMsg  string
	}{
		{name: "by id", input: "100", wantID: "100"},
		{name: "by number", input: "4521", wantID: "100"},
		{name: "official by name", input: "400", wantID: "400"},
		{name: "not official", input: "200", wantKind: apperr.Unsupported, wantMsg: "That server is not an official server."},
		{name: "wrong game", input: "300", wantKind: apperr.Unsupported, wantMsg: "That server is not an Ark: Survival Ascended server."},
		{name: "unknown", input: "8888", wantKind: apperr.NotFound, wantMsg: "That server was not found or is not available."},
		{name: "upstream down", input: "503", wantKind: apperr.TransientUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := c.LookupOfficial(context.Background(), tt.input)
			if tt.wantID != "" {
				if err != nil {
					t.Fatalf("LookupOfficial() error = %v", err)
				}
				if srv.ID != tt.wantID {
					t.Errorf("LookupOfficial() id = %s, want %s", srv.ID, tt.wantID)
				}
				return
			}
			if got := apperr.KindOf(err); got != tt.wantKind {
				t.Fatalf("KindOf(err) = %v, want %v (err %v)", got, tt.wantKind, err)
			}
			if tt.wantMsg != "" {
				if got := apperr.UserMessage(err); got != tt.wantMsg {
					t.Errorf("UserMessage = %q, want %q", got, tt.wantMsg)
				}
			}
		})
	}
}
