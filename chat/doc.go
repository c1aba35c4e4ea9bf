// Package chat connects the command dispatcher to Twitch chat over IRC.
//
// The Listener joins the configured channels as the bot account, turns prefixed
// messages into bot.Requests and says each response line back in the channel the
// command came from. Messages without the prefix, or with an unknown command, are
// ignored.
//
// Credentials: the IRC client needs a bot username and a user token with chat:read
// and chat:edit scopes. The token is read on every (re)connect so a refreshed
// token stored for provider "twitch" is picked up without a restart.
package chat
