package twitchapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"github.com/onnwee/arkpop/db"
)

// OAuthConfig builds the authorization code configuration for the bot account.
// scopes may be comma or space separated.
func OAuthConfig(clientID, clientSecret, redirectURI, scopes string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(strings.ReplaceAll(scopes, ",", " ")),
		Endpoint:     twitch.Endpoint,
	}
}

// BuildAuthorizeURL constructs the user authorization URL for OAuth code grant.
func BuildAuthorizeURL(cfg *oauth2.Config, state string) (string, error) {
	if cfg == nil || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return cfg.AuthCodeURL(state), nil
}

// scopeOf extracts the granted scopes. Twitch returns them as a JSON array.
func scopeOf(tok *oauth2.Token, fallback []string) string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return strings.Join(fallback, " ")
}

// ExchangeAuthCode exchanges an authorization code for the bot's tokens.
func ExchangeAuthCode(ctx context.Context, cfg *oauth2.Config, code string) (db.OAuthToken, error) {
	if cfg == nil || cfg.ClientID == "" || cfg.ClientSecret == "" || code == "" {
		return db.OAuthToken{}, errors.New("missing required parameter for auth code exchange")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return db.OAuthToken{}, err
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	return db.OAuthToken{
		Provider:     ProviderTwitch,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
		Scope:        scopeOf(tok, cfg.Scopes),
	}, nil
}

// RefreshFunc returns a refresher compatible with oauth.StartRefresher.
func RefreshFunc(cfg *oauth2.Config) func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		if refreshToken == "" {
			return "", "", time.Time{}, "", errors.New("missing refresh token")
		}
		tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, scopeOf(tok, nil), nil
	}
}
