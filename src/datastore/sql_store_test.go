package datastore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore 在 t.TempDir() 中创建临时 SQLite 数据库，测试结束后自动清理
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_jenlib.db")
	store, err := Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func reading(session inter.SessionID, offset uint32, at time.Time) inter.StoredReading {
	return inter.StoredReading{
		SessionID:   session,
		SensorID:    0x2A,
		OffsetMs:    offset,
		Temperature: -125,
		Humidity:    5000,
		ReceivedAt:  at,
	}
}

func TestSQLStore_SessionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	start := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.OpenSession(7, 0x2A, start))

	t.Run("AppendReading", func(t *testing.T) {
		// 乱序插入，查询应按偏移排序
		for _, off := range []uint32{2000, 1000, 3000} {
			require.NoError(t, store.AppendReading(reading(7, off, start.Add(time.Duration(off)*time.Millisecond))))
		}
		got, err := store.QueryReadings(7)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []uint32{1000, 2000, 3000}, []uint32{got[0].OffsetMs, got[1].OffsetMs, got[2].OffsetMs})
		assert.Equal(t, int16(-125), got[0].Temperature)
		assert.Equal(t, inter.DeviceID(0x2A), got[0].SensorID)
		assert.True(t, got[0].ReceivedAt.Equal(start.Add(time.Second)))
	})

	t.Run("CloseSession", func(t *testing.T) {
		end := start.Add(time.Minute)
		require.NoError(t, store.CloseSession(7, "backend timeout", end))

		rec, err := store.GetSession(7)
		require.NoError(t, err)
		assert.Equal(t, 3, rec.ReadingCount)
		assert.Equal(t, "backend timeout", rec.EndReason)
		require.NotNil(t, rec.EndedAt)
		assert.True(t, rec.EndedAt.Equal(end))
	})
}

func TestSQLStore_UnknownSession(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendReading(reading(99, 0, time.Now()))
	assert.True(t, errors.Is(err, inter.ErrStoreNotFound))

	err = store.CloseSession(99, "stop", time.Now())
	assert.True(t, errors.Is(err, inter.ErrStoreNotFound))

	_, err = store.GetSession(99)
	assert.True(t, errors.Is(err, inter.ErrStoreNotFound))

	got, err := store.QueryReadings(99)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLStore_ReopenReplaces(t *testing.T) {
	store := setupTestStore(t)
	now := time.UnixMilli(1_000)

	require.NoError(t, store.OpenSession(5, 0x01, now))
	require.NoError(t, store.AppendReading(reading(5, 100, now)))
	require.NoError(t, store.OpenSession(5, 0x02, now.Add(time.Second)))

	rec, err := store.GetSession(5)
	require.NoError(t, err)
	assert.Equal(t, inter.DeviceID(0x02), rec.SensorID)
	assert.Zero(t, rec.ReadingCount)
	assert.Nil(t, rec.EndedAt)

	got, err := store.QueryReadings(5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLStore_ListSessions(t *testing.T) {
	store := setupTestStore(t)
	base := time.UnixMilli(10_000)
	for i := 1; i <= 4; i++ {
		require.NoError(t, store.OpenSession(inter.SessionID(i), 0x2A, base.Add(time.Duration(i)*time.Second)))
	}

	recs, err := store.ListSessions(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, inter.SessionID(4), recs[0].SessionID)
	assert.Equal(t, inter.SessionID(3), recs[1].SessionID)

	all, err := store.ListSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	store, err := Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.OpenSession(1, 0x2A, time.UnixMilli(0)))
	require.NoError(t, store.Close())

	store, err = Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.GetSession(1)
	assert.NoError(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.True(t, errors.Is(err, inter.ErrInvalidConfig))
}

func TestRebind(t *testing.T) {
	q := "UPDATE sessions SET ended_at = ?, end_reason = ? WHERE session_id = ?"
	assert.Equal(t, q, rebind(DriverSQLite, q))
	assert.Equal(t, "UPDATE sessions SET ended_at = $1, end_reason = $2 WHERE session_id = $3", rebind(DriverPostgres, q))
}
