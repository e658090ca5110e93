package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"BasalGCT/internal/domain/models"
	domrepo "BasalGCT/internal/domain/repository"
	applogger "BasalGCT/pkg/logger"
)

const chunkSize = 2000

var resultColumns = []string{
	"ts", "symbol", "price",
	"trad_psi", "trad_rho", "trad_q", "trad_f",
	"psi", "rho", "q", "f",
	"anticipation", "confidence", "resonance", "efficiency", "fallback",
}

var alertColumns = []string{
	"ts", "alert_id", "symbol", "alert_type", "severity", "message", "confidence", "recommended_action",
}

// Schema returns the idempotent DDL for the result and alert tables.
func Schema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.coherence_results (
    ts DateTime64(3), symbol LowCardinality(String), price Float64,
    trad_psi Float64, trad_rho Float64, trad_q Float64, trad_f Float64,
    psi Float64, rho Float64, q Float64, f Float64,
    anticipation Float64, confidence Float64, resonance Float64, efficiency Float64,
    fallback UInt8
) ENGINE = MergeTree ORDER BY (symbol, ts)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.coherence_alerts (
    ts DateTime64(3), alert_id String, symbol LowCardinality(String),
    alert_type LowCardinality(String), severity LowCardinality(String),
    message String, confidence Float64, recommended_action String
) ENGINE = MergeTree ORDER BY (symbol, ts)`, database),
	}
}

// ClickHouseResultStore implements ResultStore for ClickHouse.
type ClickHouseResultStore struct {
	db      *sql.DB
	results string
	alerts  string
	l       *applogger.Logger
}

func NewClickHouseResultStore(db *sql.DB, database string, l *applogger.Logger) *ClickHouseResultStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseResultStore{
		db:      db,
		results: database + ".coherence_results",
		alerts:  database + ".coherence_alerts",
		l:       l.Component("clickhouse_results"),
	}
}

func (s *ClickHouseResultStore) Init(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseResultStore) StoreResults(ctx context.Context, results []*models.EnhancedCoherenceResult) error {
	rows := make([][]interface{}, 0, len(results))
	for _, r := range results {
		if r == nil || r.Symbol == "" {
			continue
		}
		rows = append(rows, resultRow(r))
	}
	return s.insert(ctx, s.results, resultColumns, rows)
}

func (s *ClickHouseResultStore) StoreAlerts(ctx context.Context, alerts []models.Alert) error {
	rows := make([][]interface{}, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []interface{}{
			a.Timestamp, a.ID, a.Symbol, string(a.Type), string(a.Severity), a.Message, a.Confidence, a.RecommendedAction,
		})
	}
	return s.insert(ctx, s.alerts, alertColumns, rows)
}

func (s *ClickHouseResultStore) insert(ctx context.Context, table string, cols []string, rows [][]interface{}) error {
	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		q, args := buildInsert(table, cols, rows[start:end])
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert failed",
				applogger.String("table", table),
				applogger.Int("rows", end-start),
				applogger.Error(err),
			)
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *ClickHouseResultStore) QueryResults(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.EnhancedCoherenceResult, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?",
		strings.Join(resultColumns, ", "), s.results)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []*models.EnhancedCoherenceResult
	for rows.Next() {
		var r models.EnhancedCoherenceResult
		var fallback uint8
		if err := rows.Scan(
			&r.Timestamp, &r.Symbol, &r.Price,
			&r.Traditional.Psi, &r.Traditional.Rho, &r.Traditional.Q, &r.Traditional.F,
			&r.Enhanced.Psi, &r.Enhanced.Rho, &r.Enhanced.Q, &r.Enhanced.F,
			&r.Anticipation, &r.Confidence, &r.Resonance, &r.Efficiency, &fallback,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Fallback = fallback == 1
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *ClickHouseResultStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool is owned by pkg/clickhouse.Client.
func (s *ClickHouseResultStore) Close() error { return nil }

func resultRow(r *models.EnhancedCoherenceResult) []interface{} {
	var fallback uint8
	if r.Fallback {
		fallback = 1
	}
	return []interface{}{
		r.Timestamp, r.Symbol, r.Price,
		r.Traditional.Psi, r.Traditional.Rho, r.Traditional.Q, r.Traditional.F,
		r.Enhanced.Psi, r.Enhanced.Rho, r.Enhanced.Q, r.Enhanced.F,
		r.Anticipation, r.Confidence, r.Resonance, r.Efficiency, fallback,
	}
}

// buildInsert renders a multi-row VALUES insert and flattens its arguments.
func buildInsert(table string, cols []string, rows [][]interface{}) (string, []interface{}) {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	values := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(cols))
	for i, row := range rows {
		values[i] = placeholder
		args = append(args, row...)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(values, ", "))
	return q, args
}

var _ domrepo.ResultStore = (*ClickHouseResultStore)(nil)
