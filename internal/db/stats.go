package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// dayLayout is the format of the day column (UTC).
const dayLayout = "2006-01-02"

// KindError is the ping_stats kind under which protocol errors are counted.
const KindError = "error"

// StatsDatabase stores per-day request counters and recent protocol errors.
type StatsDatabase struct {
	db *sqliteDB
}

// CountKey identifies one counter row.
type CountKey struct {
	Day  string
	Kind string
}

// DayOf returns the counter day for t.
func DayOf(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// DailyTotals is one day of counters.
type DailyTotals struct {
	Day            string `json:"day"`
	Status         int64  `json:"status"`
	Ping           int64  `json:"ping"`
	Legacy         int64  `json:"legacy"`
	LegacyExtended int64  `json:"legacy_extended"`
	Errors         int64  `json:"errors"`
}

// Total returns the number of answered requests.
func (d DailyTotals) Total() int64 {
	return d.Status + d.Ping + d.Legacy + d.LegacyExtended
}

// ProtocolErrorRecord is one stored protocol error.
type ProtocolErrorRecord struct {
	ID        int64     `json:"id"`
	Remote    string    `json:"remote"`
	Reason    string    `json:"reason"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStatsDatabase opens the statistics database and migrates its schema.
func NewStatsDatabase(dbPath string) (*StatsDatabase, error) {
	database, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	sdb := &StatsDatabase{db: database}
	if err := sdb.migrate(); err != nil {
		database.close()
		return nil, fmt.Errorf("failed to migrate stats database: %w", err)
	}

	return sdb, nil
}

// migrate creates the database schema.
func (sdb *StatsDatabase) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ping_stats (
			day TEXT NOT NULL,
			kind TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (day, kind)
		);

		CREATE TABLE IF NOT EXISTS protocol_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_protocol_errors_created_at ON protocol_errors(created_at);
	`

	_, err := sdb.db.exec(schema)
	return err
}

// AddCounts adds counts to the stored counters in one transaction.
func (sdb *StatsDatabase) AddCounts(counts map[CountKey]int64) error {
	if len(counts) == 0 {
		return nil
	}

	return sdb.db.transaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO ping_stats (day, kind, count) VALUES (?, ?, ?)
			ON CONFLICT (day, kind) DO UPDATE SET count = count + excluded.count`)
		if err != nil {
			return fmt.Errorf("failed to prepare counter upsert: %w", err)
		}
		defer stmt.Close()

		for key, n := range counts {
			if _, err := stmt.Exec(key.Day, key.Kind, n); err != nil {
				return fmt.Errorf("failed to add %s/%s: %w", key.Day, key.Kind, err)
			}
		}
		return nil
	})
}

// InsertErrors stores protocol errors in one transaction.
func (sdb *StatsDatabase) InsertErrors(records []ProtocolErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	return sdb.db.transaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			"INSERT INTO protocol_errors (remote, reason, state, message, created_at) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare error insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.Exec(r.Remote, r.Reason, r.State, r.Message, r.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("failed to insert protocol error: %w", err)
			}
		}
		return nil
	})
}

// Daily returns the counters of the last days days (today included), oldest
// first. Days without traffic are omitted.
func (sdb *StatsDatabase) Daily(days int, now time.Time) ([]DailyTotals, error) {
	if days < 1 {
		days = 1
	}
	since := DayOf(now.AddDate(0, 0, -(days - 1)))

	rows, err := sdb.db.query(
		"SELECT day, kind, count FROM ping_stats WHERE day >= ? ORDER BY day", since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]*DailyTotals)
	for rows.Next() {
		var day, kind string
		var n int64
		if err := rows.Scan(&day, &kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}

		t, ok := byDay[day]
		if !ok {
			t = &DailyTotals{Day: day}
			byDay[day] = t
		}
		switch kind {
		case "status":
			t.Status += n
		case "ping":
			t.Ping += n
		case "legacy":
			t.Legacy += n
		case "legacy_extended":
			t.LegacyExtended += n
		case KindError:
			t.Errors += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DailyTotals, 0, len(byDay))
	for _, t := range byDay {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// RecentErrors returns the newest protocol errors, newest first.
func (sdb *StatsDatabase) RecentErrors(limit int) ([]ProtocolErrorRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := sdb.db.query(
		"SELECT id, remote, reason, state, message, created_at FROM protocol_errors ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query protocol errors: %w", err)
	}
	defer rows.Close()

	var records []ProtocolErrorRecord
	for rows.Next() {
		var r ProtocolErrorRecord
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Remote, &r.Reason, &r.State, &r.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan protocol error: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes counters and errors older than retentionDays and returns
// the number of rows removed.
func (sdb *StatsDatabase) Prune(retentionDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	var removed int64

	err := sdb.db.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM ping_stats WHERE day < ?", DayOf(cutoff))
		if err != nil {
			return fmt.Errorf("failed to prune counters: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.Exec("DELETE FROM protocol_errors WHERE created_at < ?", cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to prune protocol errors: %w", err)
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	return removed, err
}

// Close closes the database.
func (sdb *StatsDatabase) Close() error {
	return sdb.db.close()
}
