package datastore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/G1-H25/jenlib/src/inter"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const defaultListLimit = 50

// 时间统一存为 Unix 毫秒，避免两种驱动的时间类型差异
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
       session_id    BIGINT PRIMARY KEY,
       sensor_id     BIGINT NOT NULL,
       started_at    BIGINT NOT NULL,
       ended_at      BIGINT,
       end_reason    TEXT,
       reading_count INTEGER NOT NULL DEFAULT 0
    )`,
	`CREATE TABLE IF NOT EXISTS readings (
       session_id  BIGINT NOT NULL,
       sensor_id   BIGINT NOT NULL,
       offset_ms   BIGINT NOT NULL,
       temperature INTEGER NOT NULL,
       humidity    INTEGER NOT NULL,
       received_at BIGINT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_readings_session ON readings (session_id, offset_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions (started_at)`,
}

// SQLStore implements inter.ReadingStore on SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ inter.ReadingStore = (*SQLStore)(nil)

// Open connects with driver ("sqlite" or "pgx") and creates the schema.
func Open(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("datastore: unsupported driver %q: %w", driver, inter.ErrInvalidConfig)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite 单写者
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("datastore: init schema: %w", err)
		}
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders to $1.. for PostgreSQL.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) q(query string) string { return rebind(s.driver, query) }

func millis(t time.Time) int64 { return t.UnixMilli() }

// OpenSession 开始新会话；同一 ID 再次打开会替换旧记录及其读数
func (s *SQLStore) OpenSession(session inter.SessionID, sensor inter.DeviceID, startedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.q("DELETE FROM readings WHERE session_id = ?"), int64(session)); err != nil {
		return err
	}
	if _, err := tx.Exec(s.q("DELETE FROM sessions WHERE session_id = ?"), int64(session)); err != nil {
		return err
	}
	if _, err := tx.Exec(s.q(`
		INSERT INTO sessions (session_id, sensor_id, started_at, reading_count)
		VALUES (?, ?, ?, 0)`),
		int64(session), int64(sensor), millis(startedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendReading 插入一条已确认读数并累加会话计数
func (s *SQLStore) AppendReading(r inter.StoredReading) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(s.q("UPDATE sessions SET reading_count = reading_count + 1 WHERE session_id = ?"), int64(r.SessionID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("datastore: session %s: %w", r.SessionID, inter.ErrStoreNotFound)
	}
	if _, err := tx.Exec(s.q(`
		INSERT INTO readings (session_id, sensor_id, offset_ms, temperature, humidity, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		int64(r.SessionID), int64(r.SensorID), int64(r.OffsetMs),
		int64(r.Temperature), int64(r.Humidity), millis(r.ReceivedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) CloseSession(session inter.SessionID, reason string, endedAt time.Time) error {
	res, err := s.db.Exec(s.q("UPDATE sessions SET ended_at = ?, end_reason = ? WHERE session_id = ?"),
		millis(endedAt), reason, int64(session))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("datastore: session %s: %w", session, inter.ErrStoreNotFound)
	}
	return nil
}

func (s *SQLStore) QueryReadings(session inter.SessionID) ([]inter.StoredReading, error) {
	rows, err := s.db.Query(s.q(`
		SELECT session_id, sensor_id, offset_ms, temperature, humidity, received_at
		FROM readings WHERE session_id = ? ORDER BY offset_ms ASC`), int64(session))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inter.StoredReading
	for rows.Next() {
		var sid, sensor, offset, temp, hum, received int64
		if err := rows.Scan(&sid, &sensor, &offset, &temp, &hum, &received); err != nil {
			return nil, err
		}
		out = append(out, inter.StoredReading{
			SessionID:   inter.SessionID(sid),
			SensorID:    inter.DeviceID(sensor),
			OffsetMs:    uint32(offset),
			Temperature: int16(temp),
			Humidity:    uint16(hum),
			ReceivedAt:  time.UnixMilli(received),
		})
	}
	return out, rows.Err()
}

// ListSessions 最近的会话在前；limit <= 0 时取默认值
func (s *SQLStore) ListSessions(limit int) ([]inter.SessionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(s.q(`
		SELECT session_id, sensor_id, started_at, ended_at, end_reason, reading_count
		FROM sessions ORDER BY started_at DESC, session_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inter.SessionRecord
	for rows.Next() {
		var (
			sid, sensor, started int64
			ended                sql.NullInt64
			reason               sql.NullString
			count                int
		)
		if err := rows.Scan(&sid, &sensor, &started, &ended, &reason, &count); err != nil {
			return nil, err
		}
		rec := inter.SessionRecord{
			SessionID:    inter.SessionID(sid),
			SensorID:     inter.DeviceID(sensor),
			StartedAt:    time.UnixMilli(started),
			EndReason:    reason.String,
			ReadingCount: count,
		}
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSession 查询单个会话
func (s *SQLStore) GetSession(session inter.SessionID) (inter.SessionRecord, error) {
	var (
		sensor, started int64
		ended           sql.NullInt64
		reason          sql.NullString
		count           int
	)
	err := s.db.QueryRow(s.q(`
		SELECT sensor_id, started_at, ended_at, end_reason, reading_count
		FROM sessions WHERE session_id = ?`), int64(session)).Scan(&sensor, &started, &ended, &reason, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return inter.SessionRecord{}, fmt.Errorf("datastore: session %s: %w", session, inter.ErrStoreNotFound)
	}
	if err != nil {
		return inter.SessionRecord{}, err
	}
	rec := inter.SessionRecord{
		SessionID:    session,
		SensorID:     inter.DeviceID(sensor),
		StartedAt:    time.UnixMilli(started),
		EndReason:    reason.String,
		ReadingCount: count,
	}
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		rec.EndedAt = &t
	}
	return rec, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
