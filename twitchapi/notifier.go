package twitchapi

import (
	"context"
	"strings"
	"sync"

	"github.com/onnwee/arkpop/apperr"
	"github.com/onnwee/arkpop/db"
	"github.com/onnwee/arkpop/monitor"
)

// ProviderTwitch is the oauth_tokens provider key for the bot's user token.
const ProviderTwitch = "twitch"

// WhisperNotifier delivers server-up notifications as Twitch whispers from the bot
// account. Targets are Twitch user ids.
type WhisperNotifier struct {
	Helix    *HelixClient
	BotLogin string

	mu        sync.Mutex
	botUserID string
}

// NewWhisperNotifier returns a notifier. botUserID may be empty; it is then resolved
// from BotLogin on first use.
func NewWhisperNotifier(helix *HelixClient, botLogin, botUserID string) *WhisperNotifier {
	return &WhisperNotifier{Helix: helix, BotLogin: botLogin, botUserID: botUserID}
}

func (w *WhisperNotifier) sender(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.botUserID != "" {
		return w.botUserID, nil
	}
	id, err := w.Helix.GetUserID(ctx, w.BotLogin)
	if err != nil {
		return "", apperr.Wrap(err, apperr.TransientUpstream, "resolve bot user id")
	}
	w.botUserID = id
	return id, nil
}

// Notify implements monitor.Notifier.
func (w *WhisperNotifier) Notify(ctx context.Context, target string, n monitor.Notification) error {
	from, err := w.sender(ctx)
	if err != nil {
		return err
	}
	return w.Helix.SendWhisper(ctx, from, target, n.Text())
}

// StoredUserToken returns a UserTokenFunc that prefers the stored (refreshed) token for
// provider and falls back to a static token such as TWITCH_OAUTH_TOKEN.
func StoredUserToken(store db.Store, provider, fallback string) UserTokenFunc {
	fallback = strings.TrimPrefix(fallback, "oauth:")
	return func(ctx context.Context) (string, error) {
		if store != nil {
			tok, ok, err := store.GetOAuthToken(ctx, provider)
			if err != nil {
				return "", err
			}
			if ok && tok.AccessToken != "" {
				return tok.AccessToken, nil
			}
		}
		if fallback == "" {
			return "", apperr.New(apperr.Internal, "no twitch user token available")
		}
		return fallback, nil
	}
}
