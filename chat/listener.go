package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/arkpop/bot"
	"github.com/onnwee/arkpop/telemetry"
)

// Handler is implemented by *bot.Dispatcher.
type Handler interface {
	Handle(ctx context.Context, req bot.Request) (bot.Response, bool)
}

// TokenFunc returns the bot's current chat token, with or without the "oauth:" prefix.
type TokenFunc func(ctx context.Context) (string, error)

type sayer interface {
	Say(channel, text string)
}

// Listener relays chat commands to a Handler.
type Listener struct {
	Handler  Handler
	Username string
	Channels []string
	Prefix   string
	Token    TokenFunc
	// CommandTimeout bounds one command, including directory lookups.
	CommandTimeout time.Duration
	// ReconnectDelay is the wait between connection attempts.
	ReconnectDelay time.Duration
}

// ParseCommand splits a chat line into a request. ok is false for lines that do not
// start with prefix or carry nothing after it.
func ParseCommand(prefix, text string) (bot.Request, bool) {
	if prefix == "" {
		prefix = "!"
	}
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, prefix) {
		return bot.Request{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return bot.Request{}, false
	}
	return bot.Request{Command: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

func (l *Listener) commandTimeout() time.Duration {
	if l.CommandTimeout > 0 {
		return l.CommandTimeout
	}
	return 30 * time.Second
}

// handleMessage runs one chat message through the handler and says the reply.
func (l *Listener) handleMessage(ctx context.Context, out sayer, msg twitch.PrivateMessage) {
	req, ok := ParseCommand(l.Prefix, msg.Message)
	if !ok {
		return
	}
	if strings.EqualFold(msg.User.Name, l.Username) {
		return
	}
	req.UserID = msg.User.ID
	req.UserName = msg.User.Name
	req.Channel = msg.Channel

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, cancel := context.WithTimeout(ctx, l.commandTimeout())
	defer cancel()
	resp, handled := l.Handler.Handle(ctx, req)
	if !handled {
		return
	}
	for _, line := range resp.Lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out.Say(msg.Channel, line)
	}
}

// Run connects and serves until ctx is cancelled, reconnecting after failures.
func (l *Listener) Run(ctx context.Context) error {
	if l.Handler == nil || l.Username == "" || len(l.Channels) == 0 || l.Token == nil {
		return errors.New("chat listener needs handler, username, channels and token")
	}
	delay := l.ReconnectDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	logger := slog.Default().With(slog.String("component", "chat"))
	for {
		err := l.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("twitch chat disconnected", slog.Any("err", err), slog.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (l *Listener) connectOnce(ctx context.Context) error {
	tok, err := l.Token(ctx)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	client := twitch.NewClient(l.Username, tok)
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("component", "chat"), slog.Any("channels", l.Channels))
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		go l.handleMessage(ctx, client, msg)
	})
	for _, ch := range l.Channels {
		if ch = normalizeChannel(ch); ch != "" {
			client.Join(ch)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()
	return client.Connect()
}
