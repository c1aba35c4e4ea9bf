package db

import (
	"context"
	"database/sql"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/arkpop/crypto"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T, opts Options) Store

func boltFactory(t *testing.T, opts Options) Store {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func postgresFactory(t *testing.T, opts Options) Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres store test")
	}
	conn, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, conn))
	for _, tbl := range []string{"population_samples", "monitored_servers", "oauth_tokens"} {
		_, err := conn.ExecContext(ctx, "DELETE FROM "+tbl)
		require.NoError(t, err)
	}
	s := NewPostgresStore(conn, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachBackend(t *testing.T, fn func(t *testing.T, f storeFactory)) {
	t.Run("bolt", func(t *testing.T) { fn(t, boltFactory) })
	t.Run("postgres", func(t *testing.T) { fn(t, postgresFactory) })
}

func TestQueryWindowFiltersAndOrders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f storeFactory) {
		ctx := context.Background()
		s := f(t, Options{Now: func() time.Time { return testNow }})
		base := testNow.Add(-10 * time.Hour)

		// written out of order on purpose
		require.NoError(t, s.RecordSampleAt(ctx, "100", base.Add(3*time.Hour), 30))
		require.NoError(t, s.RecordSampleAt(ctx, "100", base.Add(1*time.Hour), 10))
		require.NoError(t, s.RecordSampleAt(ctx, "100", base.Add(2*time.Hour), 20))
		require.NoError(t, s.RecordSampleAt(ctx, "100", base, 5))
		require.NoError(t, s.RecordSampleAt(ctx, "1000", base.Add(2*time.Hour), 99))
		require.NoError(t, s.RecordSampleAt(ctx, "10", base.Add(2*time.Hour), 98))

		got, err := s.QueryWindow(ctx, "100", base.Add(1*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []int{10, 20, 30}, []int{got[0].Population, got[1].Population, got[2].Population})
		for i, smp := range got {
			assert.Equal(t, "100", smp.ServerID)
			assert.GreaterOrEqual(t, smp.Timestamp, base.Add(time.Hour).Unix())
			if i > 0 {
				assert.Greater(t, smp.Timestamp, got[i-1].Timestamp)
			}
		}
	})
}

func TestQueryWindowEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f storeFactory) {
		s := f(t, Options{})
		got, err := s.QueryWindow(context.Background(), "nope", time.Time{})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestRecordSampleLastWriteWins(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f storeFactory) {
		ctx := context.Background()
		s := f(t, Options{Now: func() time.Time { return testNow }})
		require.NoError(t, s.RecordSample(ctx, "42", 7))
		require.NoError(t, s.RecordSample(ctx, "42", 11))

		got, err := s.QueryWindow(ctx, "42", testNow.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 11, got[0].Population)
		assert.Equal(t, testNow.Unix(), got[0].Timestamp)
	})
}

func TestRecordSampleClampsNegative(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f storeFactory) {
		ctx := context.Background()
		s := f(t, Options{Now: func() time.Time { return testNow }})
		require.NoError(t, s.RecordSample(ctx, "42", -3))
		got, err := s.QueryWindow(ctx, "42", testNow)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 0, got[0].Population)
	})
}

func TestPruneSamples(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f storeFactory) {
		ctx := context.Background()
		s := f(t, Options{})
		require.NoError(t, s.RecordSampleAt(ctx, "1", testNow.Add(-48*time.Hour), 1))
		require.NoError(t, s.RecordSampleAt(ctx, "2", testNow.Add(-30*time.Hour), 2))
		require.NoError(t, s.RecordSampleAt(ctx, "1", testNow, 3))

		n, err := s.PruneSamples(ctx, testNow.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := s.QueryWindow(ctx, "1", time.Time{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 3, got[0].Population)
	})
}

func TestMonitorLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f storeFactory) {
		ctx := context.Background()
		s := f(t, Options{Now: func() time.Time { return testNow }})

		require.NoError(t, s.AddMonitor(ctx, "555", "user-a"))
		updated, err := s.UpdateMonitorStatus(ctx, "555", StatusOnline)
		require.NoError(t, err)
		assert.True(t, updated)

		m, ok, err := s.GetMonitor(ctx, "555")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, StatusOnline, m.Status)
		assert.Equal(t, testNow.Unix(), m.LastStatusCheck)

		// re-adding is an upsert that resets to unknown
		require.NoError(t, s.AddMonitor(ctx, "555", "user-b"))
		m, ok, err = s.GetMonitor(ctx, "555")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "user-b", m.NotifyTarget)
		assert.Equal(t, StatusUnknown, m.Status)

		list, err := s.ListMonitors(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.RemoveMonitor(ctx, "555"))
		require.NoError(t, s.RemoveMonitor(ctx, "555"))
		_, ok, err = s.GetMonitor(ctx, "555")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestUpdateMonitorStatusDoesNotResurrect(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f storeFactory) {
		ctx := context.Background()
		s := f(t, Options{})
		require.NoError(t, s.AddMonitor(ctx, "777", "u"))
		require.NoError(t, s.RemoveMonitor(ctx, "777"))

		updated, err := s.UpdateMonitorStatus(ctx, "777", StatusOnline)
		require.NoError(t, err)
		assert.False(t, updated)

		list, err := s.ListMonitors(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestOAuthTokenSealing(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	sealer, err := crypto.NewAESSealer(key, "")
	require.NoError(t, err)

	forEachBackend(t, func(t *testing.T, f storeFactory) {
		ctx := context.Background()
		s := f(t, Options{Sealer: sealer})

		_, ok, err := s.GetOAuthToken(ctx, "twitch")
		require.NoError(t, err)
		assert.False(t, ok)

		exp := testNow.Add(time.Hour)
		require.NoError(t, s.UpsertOAuthToken(ctx, OAuthToken{
			Provider: "twitch", AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: exp, Scope: "user:manage:whispers",
		}))
		tok, ok, err := s.GetOAuthToken(ctx, "twitch")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "access-1", tok.AccessToken)
		assert.Equal(t, "refresh-1", tok.RefreshToken)
		assert.Equal(t, "user:manage:whispers", tok.Scope)
		assert.True(t, tok.Expiry.Equal(exp))
	})
}

func TestParseStatus(t *testing.T) {
	for _, in := range []string{"unknown", "ONLINE", " offline ", "dead"} {
		_, err := ParseStatus(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseStatus("removed")
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("sqlite", "", "", Options{})
	assert.Error(t, err)
}
