// Package db provides the durable sample log and monitor registry, plus the small
// oauth token table used by the chat bot. Two backends implement Store: Postgres
// (database/sql + pgx) for deployments and an embedded bbolt file for single-node use.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/arkpop/crypto"
)

// Status is the last known reachability of a monitored server.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	// StatusDead is an operator-only override. Nothing in the tracker assigns it.
	StatusDead Status = "dead"
)

// ParseStatus validates a stored or operator-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusUnknown, StatusOnline, StatusOffline, StatusDead:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Sample is one population reading for one server at one second.
type Sample struct {
	ServerID   string `json:"server_id"`
	Timestamp  int64  `json:"timestamp"`
	Population int    `json:"population"`
}

// Time returns the sample timestamp as a time.Time.
func (s Sample) Time() time.Time { return time.Unix(s.Timestamp, 0) }

// MonitoredServer is a durable registration for online notifications.
type MonitoredServer struct {
	ServerID        string `json:"server_id"`
	NotifyTarget    string `json:"notify_target"`
	Status          Status `json:"last_known_status"`
	LastStatusCheck int64  `json:"last_status_check"`
}

// OAuthToken is a provider credential row. Tokens are plaintext here and sealed at rest.
type OAuthToken struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// Store is the persistence contract shared by the tracker, commands and HTTP handlers.
// Every write is a single atomic upsert or update.
type Store interface {
	// RecordSample writes a sample stamped with the store clock. Same-second repeats overwrite.
	RecordSample(ctx context.Context, serverID string, population int) error
	RecordSampleAt(ctx context.Context, serverID string, at time.Time, population int) error
	// QueryWindow returns samples with timestamp >= since, ascending. Empty, not an error, when none exist.
	QueryWindow(ctx context.Context, serverID string, since time.Time) ([]Sample, error)
	// PruneSamples deletes samples older than before and reports how many were removed.
	PruneSamples(ctx context.Context, before time.Time) (int64, error)

	// AddMonitor upserts a registration with status unknown.
	AddMonitor(ctx context.Context, serverID, notifyTarget string) error
	// RemoveMonitor is idempotent.
	RemoveMonitor(ctx context.Context, serverID string) error
	GetMonitor(ctx context.Context, serverID string) (MonitoredServer, bool, error)
	ListMonitors(ctx context.Context) ([]MonitoredServer, error)
	// UpdateMonitorStatus sets status and check time. It never recreates a removed
	// registration; updated is false in that case.
	UpdateMonitorStatus(ctx context.Context, serverID string, status Status) (updated bool, err error)

	UpsertOAuthToken(ctx context.Context, tok OAuthToken) error
	GetOAuthToken(ctx context.Context, provider string) (OAuthToken, bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Options are shared by both backends.
type Options struct {
	// Now is the clock used for sample and check timestamps. Defaults to time.Now.
	Now func() time.Time
	// Sealer encrypts oauth tokens at rest. Nil stores plaintext (encryption_version 0).
	Sealer crypto.Sealer
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

var errEmptyServerID = errors.New("server id is empty")

func clampPopulation(p int) int {
	if p < 0 {
		return 0
	}
	return p
}

var (
	envSealer     crypto.Sealer
	envSealerOnce sync.Once
	envSealerErr  error
)

// SealerFromEnv builds the token sealer from ENCRYPTION_KEY once per process.
// It returns nil, nil when the key is unset.
func SealerFromEnv() (crypto.Sealer, error) {
	envSealerOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, oauth tokens will be stored in plaintext", slog.String("component", "db_encryption"))
			return
		}
		s, err := crypto.NewAESSealer(key, os.Getenv("ENCRYPTION_KEY_ID"))
		if err != nil {
			envSealerErr = fmt.Errorf("failed to initialize encryption: %w", err)
			return
		}
		envSealer = s
		slog.Info("oauth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
	if envSealerErr != nil {
		return nil, envSealerErr
	}
	return envSealer, nil
}

// sealToken returns the stored form of tok plus its encryption version and key id.
func sealToken(s crypto.Sealer, tok OAuthToken) (OAuthToken, int, string, error) {
	if s == nil {
		return tok, 0, "", nil
	}
	access, err := s.Seal(tok.AccessToken)
	if err != nil {
		return tok, 0, "", fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.Seal(tok.RefreshToken)
	if err != nil {
		return tok, 0, "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	tok.AccessToken, tok.RefreshToken = access, refresh
	return tok, 1, s.KeyID(), nil
}

// openToken reverses sealToken. Version 0 rows are returned as-is.
func openToken(s crypto.Sealer, tok OAuthToken, version int) (OAuthToken, error) {
	if version == 0 {
		return tok, nil
	}
	if s == nil {
		return tok, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
	}
	access, err := s.Open(tok.AccessToken)
	if err != nil {
		return tok, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := s.Open(tok.RefreshToken)
	if err != nil {
		return tok, fmt.Errorf("decrypt refresh token: %w", err)
	}
	tok.AccessToken, tok.RefreshToken = access, refresh
	return tok, nil
}

// Open returns the backend named by backend ("postgres" or "bolt").
// Postgres schema setup is the caller's job (RunMigrations / Migrate).
func Open(backend, dsn, boltPath string, opts Options) (Store, error) {
	switch strings.ToLower(backend) {
	case "postgres", "pg":
		return OpenPostgres(dsn, opts)
	case "bolt", "bbolt", "":
		return OpenBolt(boltPath, opts)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
