package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/tools/timeparser"
)

// SQLiteProvider acquires sessions from a database/sql pool opened with the sqlite driver.
// Timestamps are stored as fixed-width UTC text so they compare lexicographically.
type SQLiteProvider struct {
	db *sql.DB
}

// NewSQLiteProvider creates a new provider over the given database
func NewSQLiteProvider(db *sql.DB) *SQLiteProvider {
	return &SQLiteProvider{db: db}
}

// Acquire reserves one connection of the pool for the duration of a run
func (p *SQLiteProvider) Acquire(ctx context.Context) (Session, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return &sqliteSession{conn: conn}, nil
}

type sqliteSession struct {
	conn *sql.Conn
}

func (s *sqliteSession) Release() {
	_ = s.conn.Close()
}

func (s *sqliteSession) ListSyncableSystems(ctx context.Context) ([]db.System, error) {
	query := `
		SELECT id, nome_sistema, CAST(thingspeak_channel_id AS TEXT), thingspeak_read_apikey,
		       cultura_id_atual, COALESCE(comando_irrigacao, 'DESLIGAR')
		FROM sistemas_irrigacao
		WHERE thingspeak_channel_id IS NOT NULL AND thingspeak_read_apikey IS NOT NULL
		ORDER BY id
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query systems: %w", err)
	}
	defer rows.Close()

	var systems []db.System
	for rows.Next() {
		var sys db.System
		var culture sql.NullInt64
		var command string
		if err := rows.Scan(&sys.ID, &sys.Name, &sys.ChannelID, &sys.ReadAPIKey, &culture, &command); err != nil {
			return nil, fmt.Errorf("failed to scan system: %w", err)
		}
		if culture.Valid {
			id := culture.Int64
			sys.CultureID = &id
		}
		sys.CurrentCommand = db.Command(command)
		systems = append(systems, sys)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return systems, nil
}

func (s *sqliteSession) ListMappings(ctx context.Context, systemID int64) ([]db.Mapping, error) {
	query := `
		SELECT id, sistema_id, field_number, tipo_leitura
		FROM mapeamento_thingspeak
		WHERE sistema_id = ?
		ORDER BY field_number
	`

	rows, err := s.conn.QueryContext(ctx, query, systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []db.Mapping
	for rows.Next() {
		var m db.Mapping
		if err := rows.Scan(&m.ID, &m.SystemID, &m.FieldNumber, &m.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return mappings, nil
}

func (s *sqliteSession) FindMapping(ctx context.Context, systemID int64, kind string) (*db.Mapping, error) {
	query := `
		SELECT id, sistema_id, field_number, tipo_leitura
		FROM mapeamento_thingspeak
		WHERE sistema_id = ? AND tipo_leitura = ?
		LIMIT 1
	`

	var m db.Mapping
	err := s.conn.QueryRowContext(ctx, query, systemID, kind).Scan(&m.ID, &m.SystemID, &m.FieldNumber, &m.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping: %w", err)
	}

	return &m, nil
}

func (s *sqliteSession) LatestReadingTime(ctx context.Context, systemID int64) (time.Time, bool, error) {
	query := `
		SELECT MAX(l.timestamp)
		FROM leituras l
		JOIN mapeamento_thingspeak m ON l.mapeamento_id = m.id
		WHERE m.sistema_id = ?
	`

	var latest sql.NullString
	if err := s.conn.QueryRowContext(ctx, query, systemID).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest reading time: %w", err)
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}

	ts, err := timeparser.ParseStoredTimestamp(latest.String)
	if err != nil {
		return time.Time{}, false, err
	}

	return ts, true, nil
}

func (s *sqliteSession) InsertReadings(ctx context.Context, readings []db.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO leituras (mapeamento_id, valor, timestamp)
		VALUES (?, ?, ?)
	`
	for _, r := range readings {
		if _, err := tx.ExecContext(ctx, query, r.MappingID, r.Value, timeparser.FormatStoredTimestamp(r.Timestamp)); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}

	return nil
}

func (s *sqliteSession) ReadingValuesSince(ctx context.Context, mappingID int64, since time.Time) ([]float64, error) {
	query := `
		SELECT valor
		FROM leituras
		WHERE mapeamento_id = ? AND timestamp >= ?
		ORDER BY timestamp
	`

	rows, err := s.conn.QueryContext(ctx, query, mappingID, timeparser.FormatStoredTimestamp(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return values, nil
}

func (s *sqliteSession) LatestReading(ctx context.Context, mappingID int64) (*db.Reading, error) {
	query := `
		SELECT id, mapeamento_id, valor, timestamp
		FROM leituras
		WHERE mapeamento_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var r db.Reading
	var ts string
	err := s.conn.QueryRowContext(ctx, query, mappingID).Scan(&r.ID, &r.MappingID, &r.Value, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}

	if r.Timestamp, err = timeparser.ParseStoredTimestamp(ts); err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *sqliteSession) AppendETEstimate(ctx context.Context, estimate db.ETEstimate) error {
	query := `
		INSERT INTO calculos_et (sistema_id, valor_et_calculado, timestamp_calculo)
		VALUES (?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query, estimate.SystemID, estimate.Value, timeparser.FormatStoredTimestamp(estimate.ComputedAt))
	if err != nil {
		return fmt.Errorf("failed to insert et estimate: %w", err)
	}

	return nil
}

func (s *sqliteSession) ReplaceETEstimate(ctx context.Context, estimate db.ETEstimate) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calculos_et WHERE sistema_id = ?`, estimate.SystemID); err != nil {
		return fmt.Errorf("failed to delete et estimates: %w", err)
	}

	query := `
		INSERT INTO calculos_et (sistema_id, valor_et_calculado, timestamp_calculo)
		VALUES (?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, estimate.SystemID, estimate.Value, timeparser.FormatStoredTimestamp(estimate.ComputedAt)); err != nil {
		return fmt.Errorf("failed to insert et estimate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit et estimate: %w", err)
	}

	return nil
}

func (s *sqliteSession) CultureParameter(ctx context.Context, cultureID int64, name string) (float64, bool, error) {
	query := `
		SELECT valor
		FROM parametros_cultura
		WHERE cultura_id = ? AND nome_parametro = ?
		LIMIT 1
	`

	var value float64
	err := s.conn.QueryRowContext(ctx, query, cultureID, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query culture parameter: %w", err)
	}

	return value, true, nil
}

func (s *sqliteSession) ApplyDecision(ctx context.Context, systemID int64, cmd db.Command, event *db.Event) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := `
		UPDATE sistemas_irrigacao
		SET comando_irrigacao = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update, string(cmd), systemID); err != nil {
		return fmt.Errorf("failed to update command: %w", err)
	}

	if event != nil {
		insert := `
			INSERT INTO eventos_irrigacao (sistema_id, acao, motivo, timestamp)
			VALUES (?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, insert, event.SystemID, event.Action, event.Reason, timeparser.FormatStoredTimestamp(event.OccurredAt)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decision: %w", err)
	}

	return nil
}
