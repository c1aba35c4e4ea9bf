// Package twitchapi contains the small slice of Twitch Helix the bot needs: resolving
// a login to a user id and whispering server-up notifications.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/arkpop/apperr"
)

// DefaultHelixURL is the Helix API root.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// defaultHTTPClient is used when HelixClient.HTTPClient is nil.
var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// UserTokenFunc returns the bot's current user access token.
type UserTokenFunc func(ctx context.Context) (string, error)

// HelixClient calls Helix with an app token for lookups and the bot's user token for
// whispers.
type HelixClient struct {
	BaseURL        string
	ClientID       string
	AppTokenSource *TokenSource
	UserToken      UserTokenFunc
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return defaultHTTPClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultHelixURL
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	if hc.AppTokenSource == nil {
		return "", errors.New("no app token source configured")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/users?"+url.Values{"login": {login}}.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.TransientUpstream, "twitch users request")
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.Wrap(fmt.Errorf("%s: %s", resp.Status, b), apperr.ClassifyHTTPStatus(resp.StatusCode), "twitch users request failed")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", apperr.New(apperr.NotFound, "user not found")
	}
	return body.Data[0].ID, nil
}

// SendWhisper whispers text from fromID to toID. Recipients who block whispers or no
// longer exist yield apperr.PermanentDelivery. A 403 caused by the sending account
// (unverified phone, suspension, missing permission) is Internal so that no
// registration is dropped for it. Throttling, auth and server errors are
// TransientUpstream.
func (hc *HelixClient) SendWhisper(ctx context.Context, fromID, toID, text string) error {
	if fromID == "" || toID == "" {
		return apperr.New(apperr.Internal, "whisper needs sender and recipient ids")
	}
	if hc.UserToken == nil {
		return apperr.New(apperr.Internal, "no user token configured for whispers")
	}
	tok, err := hc.UserToken(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.TransientUpstream, "load user token")
	}
	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return err
	}
	q := url.Values{"from_user_id": {fromID}, "to_user_id": {toID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.base()+"/whispers?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.TransientUpstream, "whisper request")
	}
	defer closeBody(resp)

	switch code := resp.StatusCode; {
	case code == http.StatusNoContent || code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Wrap(fmt.Errorf("%s: %s", resp.Status, b), apperr.PermanentDelivery, "whisper recipient unreachable")
	case code == http.StatusForbidden:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := fmt.Errorf("%s: %s", resp.Status, b)
		if forbiddenByRecipient(b) {
			return apperr.Wrap(cause, apperr.PermanentDelivery, "whisper recipient unreachable")
		}
		return apperr.Wrap(cause, apperr.Internal, "bot account may not send whispers")
	case code == http.StatusUnauthorized || code == http.StatusTooManyRequests || code >= 500:
		return apperr.Wrap(fmt.Errorf("%s", resp.Status), apperr.TransientUpstream, "whisper failed")
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Wrap(fmt.Errorf("%s: %s", resp.Status, b), apperr.Internal, "whisper rejected")
	}
}

// recipientRefusals are fragments of Helix 403 messages that blame the recipient.
var recipientRefusals = []string{
	"may not whisper the receiving user",
	"recipient's settings",
	"prevent this sender",
	"blocked",
	"does not allow whispers",
	"not accepting whispers",
}

// forbiddenByRecipient reports whether a 403 whisper response body names the
// recipient as the reason. Anything else is treated as a sender-side problem.
func forbiddenByRecipient(body []byte) bool {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	msg := strings.ToLower(e.Message)
	for _, frag := range recipientRefusals {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
