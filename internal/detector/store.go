// internal/detector/store.go
package detector

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/signalnine/auspex/internal/protocol"
	_ "modernc.org/sqlite"
)

// Store persists emitted anomaly records to SQLite for the query endpoints.
// Detection state (window, baselines, block table) deliberately stays in
// memory; only results land here.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the SQLite database
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		host TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		score REAL NOT NULL,
		description TEXT,
		data TEXT,
		evidence TEXT,
		created_at TEXT DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_anomalies_host ON anomalies(host);
	CREATE INDEX IF NOT EXISTS idx_anomalies_severity ON anomalies(severity);
	CREATE INDEX IF NOT EXISTS idx_anomalies_timestamp ON anomalies(timestamp);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertAnomaly stores one anomaly record
func (s *Store) InsertAnomaly(rec *protocol.AnomalyRecord) error {
	dataJSON, err := json.Marshal(protocol.SanitizeExt(rec.Data))
	if err != nil {
		return err
	}

	var evidenceJSON []byte
	if rec.Evidence != nil {
		evidenceJSON, err = json.Marshal(rec.Evidence)
		if err != nil {
			return err
		}
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO anomalies (id, timestamp, host, type, severity, score, description, data, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Timestamp.Format(time.RFC3339), rec.Host, rec.Type, rec.Severity,
		rec.Score, rec.Description, string(dataJSON), string(evidenceJSON))

	return err
}

// QueryByHost returns recent anomalies for a host
func (s *Store) QueryByHost(host string, limit int) ([]protocol.AnomalyRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, host, type, severity, score, description, data, evidence
		FROM anomalies
		WHERE host = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, host, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAnomalies(rows)
}

// QueryRecent returns the most recent anomalies across all hosts
func (s *Store) QueryRecent(limit int) ([]protocol.AnomalyRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, host, type, severity, score, description, data, evidence
		FROM anomalies
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAnomalies(rows)
}

// severityOrder ranks severities for minimum-severity queries.
var severityOrder = []string{
	protocol.SeverityLow,
	protocol.SeverityMedium,
	protocol.SeverityHigh,
	protocol.SeverityCritical,
}

// QueryBySeverity returns recent anomalies at or above the given severity.
// An unknown severity matches everything.
func (s *Store) QueryBySeverity(minSeverity string, limit int) ([]protocol.AnomalyRecord, error) {
	idx := 0
	for i, sev := range severityOrder {
		if sev == minSeverity {
			idx = i
			break
		}
	}
	include := severityOrder[idx:]

	placeholders := strings.Repeat("?,", len(include))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(include)+1)
	for _, sev := range include {
		args = append(args, sev)
	}
	args = append(args, limit)

	rows, err := s.db.Query(`
		SELECT id, timestamp, host, type, severity, score, description, data, evidence
		FROM anomalies
		WHERE severity IN (`+placeholders+`)
		ORDER BY timestamp DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAnomalies(rows)
}

// SeverityCounts returns count of stored anomalies by severity
func (s *Store) SeverityCounts() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT severity, COUNT(*) FROM anomalies GROUP BY severity
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}

func scanAnomalies(rows *sql.Rows) ([]protocol.AnomalyRecord, error) {
	var records []protocol.AnomalyRecord
	for rows.Next() {
		var rec protocol.AnomalyRecord
		var tsStr string
		var description, dataJSON, evidenceJSON sql.NullString

		err := rows.Scan(&rec.ID, &tsStr, &rec.Host, &rec.Type, &rec.Severity,
			&rec.Score, &description, &dataJSON, &evidenceJSON)
		if err != nil {
			return nil, err
		}

		rec.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		if description.Valid {
			rec.Description = description.String
		}
		if dataJSON.Valid && dataJSON.String != "" && dataJSON.String != "null" {
			json.Unmarshal([]byte(dataJSON.String), &rec.Data)
		}
		if evidenceJSON.Valid && evidenceJSON.String != "" {
			var m protocol.MetricSample
			if err := json.Unmarshal([]byte(evidenceJSON.String), &m); err == nil {
				rec.Evidence = &m
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}
