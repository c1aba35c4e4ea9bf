// Package oauth keeps the bot's stored user token fresh. The chat connection and the
// whisper notifier read the token from the store, so a refresh here is picked up on
// their next call without a restart.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/arkpop/db"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TokenStore is the slice of db.Store the refresher needs.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (db.OAuthToken, bool, error)
	UpsertOAuthToken(ctx context.Context, tok db.OAuthToken) error
}

// Result describes one refresh check.
type Result int

const (
	// Skipped means no token, no refresh token, or expiry is outside the window.
	Skipped Result = iota
	Refreshed
	Failed
)

// refreshOnce refreshes provider's token when it expires within window of now.
func refreshOnce(ctx context.Context, store TokenStore, provider string, window time.Duration, now time.Time, fn RefreshFunc) (Result, error) {
	tok, ok, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return Failed, err
	}
	if !ok || tok.RefreshToken == "" {
		return Skipped, nil
	}
	if tok.Expiry.Sub(now) > window {
		return Skipped, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, tok.RefreshToken)
	cancel()
	if err != nil {
		return Failed, err
	}
	if newRT == "" {
		newRT = tok.RefreshToken
	}
	if newScope == "" {
		newScope = tok.Scope
	}
	err = store.UpsertOAuthToken(ctx, db.OAuthToken{
		Provider:     provider,
		AccessToken:  newAT,
		RefreshToken: newRT,
		Expiry:       newExp,
		Scope:        strings.TrimSpace(newScope),
	})
	if err != nil {
		return Failed, err
	}
	return Refreshed, nil
}

// StartRefresher launches a goroutine that periodically checks a stored token and refreshes it.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: scheduling jitter only
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			res, err := refreshOnce(ctx, store, provider, window, time.Now(), fn)
			switch res {
			case Refreshed:
				slog.Info("token refreshed", slog.String("provider", provider))
			case Failed:
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
			}

			// ±20% of interval
			jitterRange := int64(interval / 5)
			var jitter time.Duration
			if jitterRange > 0 {
				//nolint:gosec // G404: scheduling jitter only
				jitter = time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval + jitter):
			}
		}
	}()
}
