package oauth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/testutil"
)

func seed(t *testing.T, store db.Store, tok db.OAuthToken) {
	t.Helper()
	if err := store.UpsertOAuthToken(context.Background(), tok); err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func TestRefreshOnce(t *testing.T) {
	now := time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)
	newExpiry := now.Add(4 * time.Hour)
	ok := func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
		return "new-access", "", newExpiry, "", nil
	}
	boom := func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", errors.New("invalid refresh token")
	}

	tests := []struct {
		name       string
		tok        *db.OAuthToken
		fn         RefreshFunc
		want       Result
		wantAccess string
	}{
		{name: "no token", fn: ok, want: Skipped},
		{name: "outside window", tok: &db.OAuthToken{Provider: "twitch", AccessToken: "a", RefreshToken: "r", Expiry: now.Add(time.Hour)}, fn: ok, want: Skipped, wantAccess: "a"},
		{name: "no refresh token", tok: &db.OAuthToken{Provider: "twitch", AccessToken: "a", Expiry: now.Add(time.Minute)}, fn: ok, want: Skipped, wantAccess: "a"},
		{name: "within window", tok: &db.OAuthToken{Provider: "twitch", AccessToken: "a", RefreshToken: "r", Expiry: now.Add(5 * time.Minute), Scope: "chat:read"}, fn: ok, want: Refreshed, wantAccess: "new-access"},
		{name: "refresh fails", tok: &db.OAuthToken{Provider: "twitch", AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Minute)}, fn: boom, want: Failed, wantAccess: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewBoltStore(t, nil)
			if tt.tok != nil {
				seed(t, store, *tt.tok)
			}
			got, _ := refreshOnce(context.Background(), store, "twitch", 15*time.Minute, now, tt.fn)
			if got != tt.want {
				t.Errorf("refreshOnce() = %v, want %v", got, tt.want)
			}
			if tt.tok == nil {
				return
			}
			stored, _, err := store.GetOAuthToken(context.Background(), "twitch")
			if err != nil {
				t.Fatal(err)
			}
			if stored.AccessToken != tt.wantAccess {
				t.Errorf("access token = %q, want %q", stored.AccessToken, tt.wantAccess)
			}
			if tt.want == Refreshed {
				if stored.RefreshToken != "r" {
					t.Errorf("refresh token = %q, want previous kept", stored.RefreshToken)
				}
				if stored.Scope != "chat:read" {
					t.Errorf("scope = %q, want previous kept", stored.Scope)
				}
				if !stored.Expiry.Equal(newExpiry) {
					t.Errorf("expiry = %v, want %v", stored.Expiry, newExpiry)
				}
			}
		})
	}
}

func TestStartRefresherStopsOnCancel(t *testing.T) {
	store := testutil.NewBoltStore(t, nil)
	seed(t, store, db.OAuthToken{Provider: "twitch", AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(time.Minute)})

	var calls atomic.Int32
	fn := func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
		calls.Add(1)
		return "new", "r2", time.Now().Add(4 * time.Hour), "", nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	StartRefresher(ctx, store, "twitch", 20*time.Millisecond, 15*time.Minute, fn)

	deadline := time.Now().Add(2 * time.Second)
	var tok db.OAuthToken
	for time.Now().Before(deadline) {
		tok, _, _ = store.GetOAuthToken(context.Background(), "twitch")
		if tok.AccessToken == "new" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if calls.Load() == 0 {
		t.Fatal("refresh was not called for a token inside the window")
	}
	if tok.AccessToken != "new" || tok.RefreshToken != "r2" {
		t.Errorf("stored token = %+v, want refreshed", tok)
	}
}
