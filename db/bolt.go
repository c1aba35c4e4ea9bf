package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names for the bbolt backend.
const (
	samplesBucket  = "samples"
	monitorsBucket = "monitors"
	tokensBucket   = "oauth_tokens" //nolint:gosec // bucket name, not a credential
)

// BoltStore implements Store on a single bbolt file. Sample keys are
// server_id 0x00 big-endian(ts) so a cursor seek yields ascending time order.
type BoltStore struct {
	db   *bbolt.DB
	opts Options
}

// OpenBolt opens (creating if needed) the database file at path.
func OpenBolt(path string, opts Options) (*BoltStore, error) {
	if path == "" {
		path = filepath.Join("data", "arkpop.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{samplesBucket, monitorsBucket, tokensBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &BoltStore{db: bdb, opts: opts}, nil
}

func samplePrefix(serverID string) []byte {
	return append([]byte(serverID), 0)
}

func sampleKey(serverID string, ts int64) []byte {
	if ts < 0 {
		ts = 0
	}
	k := samplePrefix(serverID)
	return binary.BigEndian.AppendUint64(k, uint64(ts))
}

func (s *BoltStore) RecordSample(ctx context.Context, serverID string, population int) error {
	return s.RecordSampleAt(ctx, serverID, s.opts.now(), population)
}

func (s *BoltStore) RecordSampleAt(_ context.Context, serverID string, at time.Time, population int) error {
	if serverID == "" {
		return errEmptyServerID
	}
	val := binary.BigEndian.AppendUint32(nil, uint32(clampPopulation(population)))
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(samplesBucket)).Put(sampleKey(serverID, at.Unix()), val)
	})
}

func (s *BoltStore) QueryWindow(_ context.Context, serverID string, since time.Time) ([]Sample, error) {
	out := []Sample{}
	prefix := samplePrefix(serverID)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(samplesBucket)).Cursor()
		for k, v := c.Seek(sampleKey(serverID, since.Unix())); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if len(k) != len(prefix)+8 || len(v) != 4 {
				continue
			}
			out = append(out, Sample{
				ServerID:   serverID,
				Timestamp:  int64(binary.BigEndian.Uint64(k[len(prefix):])),
				Population: int(binary.BigEndian.Uint32(v)),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query window %s: %w", serverID, err)
	}
	return out, nil
}

func (s *BoltStore) PruneSamples(_ context.Context, before time.Time) (int64, error) {
	cutoff := before.Unix()
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(samplesBucket))
		var stale [][]byte
		err := b.ForEach(func(k, _ []byte) error {
			if len(k) < 9 {
				return nil
			}
			if int64(binary.BigEndian.Uint64(k[len(k)-8:])) < cutoff {
				stale = append(stale, bytes.Clone(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(stale))
		return nil
	})
	return n, err
}

func (s *BoltStore) AddMonitor(_ context.Context, serverID, notifyTarget string) error {
	if serverID == "" {
		return errEmptyServerID
	}
	data, err := json.Marshal(MonitoredServer{ServerID: serverID, NotifyTarget: notifyTarget, Status: StatusUnknown})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(monitorsBucket)).Put([]byte(serverID), data)
	})
}

func (s *BoltStore) RemoveMonitor(_ context.Context, serverID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(monitorsBucket)).Delete([]byte(serverID))
	})
}

func (s *BoltStore) GetMonitor(_ context.Context, serverID string) (MonitoredServer, bool, error) {
	var m MonitoredServer
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(monitorsBucket)).Get([]byte(serverID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &m)
	})
	return m, found, err
}

func (s *BoltStore) ListMonitors(_ context.Context) ([]MonitoredServer, error) {
	out := []MonitoredServer{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(monitorsBucket)).ForEach(func(_, v []byte) error {
			var m MonitoredServer
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

// UpdateMonitorStatus reads and writes inside one transaction; a missing key is left missing.
func (s *BoltStore) UpdateMonitorStatus(_ context.Context, serverID string, status Status) (bool, error) {
	var updated bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(monitorsBucket))
		v := b.Get([]byte(serverID))
		if v == nil {
			return nil
		}
		var m MonitoredServer
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		m.Status = status
		m.LastStatusCheck = s.opts.now().Unix()
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		updated = true
		return b.Put([]byte(serverID), data)
	})
	return updated, err
}

type boltToken struct {
	AccessToken       string    `json:"access_token"`
	RefreshToken      string    `json:"refresh_token"`
	Expiry            time.Time `json:"expires_at"`
	Scope             string    `json:"scope"`
	EncryptionVersion int       `json:"encryption_version"`
	EncryptionKeyID   string    `json:"encryption_key_id,omitempty"`
}

func (s *BoltStore) UpsertOAuthToken(_ context.Context, tok OAuthToken) error {
	stored, version, keyID, err := sealToken(s.opts.Sealer, tok)
	if err != nil {
		return err
	}
	data, err := json.Marshal(boltToken{
		AccessToken:       stored.AccessToken,
		RefreshToken:      stored.RefreshToken,
		Expiry:            tok.Expiry,
		Scope:             tok.Scope,
		EncryptionVersion: version,
		EncryptionKeyID:   keyID,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tokensBucket)).Put([]byte(tok.Provider), data)
	})
}

func (s *BoltStore) GetOAuthToken(_ context.Context, provider string) (OAuthToken, bool, error) {
	var bt boltToken
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(tokensBucket)).Get([]byte(provider))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &bt)
	})
	if err != nil || !found {
		return OAuthToken{}, false, err
	}
	tok, err := openToken(s.opts.Sealer, OAuthToken{
		Provider:     provider,
		AccessToken:  bt.AccessToken,
		RefreshToken: bt.RefreshToken,
		Expiry:       bt.Expiry,
		Scope:        bt.Scope,
	}, bt.EncryptionVersion)
	if err != nil {
		return OAuthToken{}, false, err
	}
	return tok, true, nil
}

// Ping verifies the file is still open and readable.
func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(monitorsBucket)) == nil {
			return fmt.Errorf("bucket %s missing", monitorsBucket)
		}
		return nil
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }
