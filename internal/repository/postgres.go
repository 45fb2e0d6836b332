package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/irrigation-sync-worker/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// PostgresProvider acquires sessions from a pgx connection pool
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider creates a new provider over the given pool
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

// Acquire takes one connection out of the pool for the duration of a run
func (p *PostgresProvider) Acquire(ctx context.Context) (Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return &pgSession{conn: conn}, nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

func (s *pgSession) Release() {
	s.conn.Release()
}

// ListSyncableSystems returns systems with channel credentials configured
func (s *pgSession) ListSyncableSystems(ctx context.Context) ([]db.System, error) {
	query := `
		SELECT id, nome_sistema, thingspeak_channel_id::text, thingspeak_read_apikey,
		       cultura_id_atual, COALESCE(comando_irrigacao, 'DESLIGAR')
		FROM sistemas_irrigacao
		WHERE thingspeak_channel_id IS NOT NULL AND thingspeak_read_apikey IS NOT NULL
		ORDER BY id
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query systems: %w", err)
	}
	defer rows.Close()

	var systems []db.System
	for rows.Next() {
		var sys db.System
		var command string
		if err := rows.Scan(&sys.ID, &sys.Name, &sys.ChannelID, &sys.ReadAPIKey, &sys.CultureID, &command); err != nil {
			return nil, fmt.Errorf("failed to scan system: %w", err)
		}
		sys.CurrentCommand = db.Command(command)
		systems = append(systems, sys)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return systems, nil
}

// ListMappings returns every field mapping of a system
func (s *pgSession) ListMappings(ctx context.Context, systemID int64) ([]db.Mapping, error) {
	query := `
		SELECT id, sistema_id, field_number, tipo_leitura
		FROM mapeamento_thingspeak
		WHERE sistema_id = $1
		ORDER BY field_number
	`

	rows, err := s.conn.Query(ctx, query, systemID)
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

// FindMapping looks up the mapping of a given reading kind
func (s *pgSession) FindMapping(ctx context.Context, systemID int64, kind string) (*db.Mapping, error) {
	query := `
		SELECT id, sistema_id, field_number, tipo_leitura
		FROM mapeamento_thingspeak
		WHERE sistema_id = $1 AND tipo_leitura = $2
		LIMIT 1
	`

	var m db.Mapping
	err := s.conn.QueryRow(ctx, query, systemID, kind).Scan(&m.ID, &m.SystemID, &m.FieldNumber, &m.Kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping: %w", err)
	}

	return &m, nil
}

// LatestReadingTime returns the watermark source for a system
func (s *pgSession) LatestReadingTime(ctx context.Context, systemID int64) (time.Time, bool, error) {
	query := `
		SELECT MAX(l.timestamp)
		FROM leituras l
		JOIN mapeamento_thingspeak m ON l.mapeamento_id = m.id
		WHERE m.sistema_id = $1
	`

	var latest *time.Time
	if err := s.conn.QueryRow(ctx, query, systemID).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest reading time: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}

	return latest.UTC(), true, nil
}

// InsertReadings inserts readings within a transaction
func (s *pgSession) InsertReadings(ctx context.Context, readings []db.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range readings {
		if err := insertReadingTx(ctx, tx, &readings[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}

	return nil
}

func insertReadingTx(ctx context.Context, tx Tx, reading *db.Reading) error {
	query := `
		INSERT INTO leituras (mapeamento_id, valor, timestamp)
		VALUES ($1, $2, $3)
	`

	_, err := tx.Exec(ctx, query, reading.MappingID, reading.Value, reading.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	return nil
}

// ReadingValuesSince returns reading values of a mapping at or after since
func (s *pgSession) ReadingValuesSince(ctx context.Context, mappingID int64, since time.Time) ([]float64, error) {
	query := `
		SELECT valor
		FROM leituras
		WHERE mapeamento_id = $1 AND timestamp >= $2
		ORDER BY timestamp
	`

	rows, err := s.conn.Query(ctx, query, mappingID, since.UTC())
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

// LatestReading returns the most recent reading of a mapping
func (s *pgSession) LatestReading(ctx context.Context, mappingID int64) (*db.Reading, error) {
	query := `
		SELECT id, mapeamento_id, valor, timestamp
		FROM leituras
		WHERE mapeamento_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var r db.Reading
	err := s.conn.QueryRow(ctx, query, mappingID).Scan(&r.ID, &r.MappingID, &r.Value, &r.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}

	return &r, nil
}

// AppendETEstimate inserts an estimate keeping the history
func (s *pgSession) AppendETEstimate(ctx context.Context, estimate db.ETEstimate) error {
	query := `
		INSERT INTO calculos_et (sistema_id, valor_et_calculado, timestamp_calculo)
		VALUES ($1, $2, $3)
	`

	_, err := s.conn.Exec(ctx, query, estimate.SystemID, estimate.Value, estimate.ComputedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert et estimate: %w", err)
	}

	return nil
}

// ReplaceETEstimate swaps the stored estimate of a system for a new one
func (s *pgSession) ReplaceETEstimate(ctx context.Context, estimate db.ETEstimate) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM calculos_et WHERE sistema_id = $1`, estimate.SystemID); err != nil {
		return fmt.Errorf("failed to delete et estimates: %w", err)
	}

	query := `
		INSERT INTO calculos_et (sistema_id, valor_et_calculado, timestamp_calculo)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, query, estimate.SystemID, estimate.Value, estimate.ComputedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert et estimate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit et estimate: %w", err)
	}

	return nil
}

// CultureParameter looks up a named parameter of a culture
func (s *pgSession) CultureParameter(ctx context.Context, cultureID int64, name string) (float64, bool, error) {
	query := `
		SELECT valor
		FROM parametros_cultura
		WHERE cultura_id = $1 AND nome_parametro = $2
		LIMIT 1
	`

	var value float64
	err := s.conn.QueryRow(ctx, query, cultureID, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query culture parameter: %w", err)
	}

	return value, true, nil
}

// ApplyDecision stores the decided actuator command together with its audit event
func (s *pgSession) ApplyDecision(ctx context.Context, systemID int64, cmd db.Command, event *db.Event) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE sistemas_irrigacao
		SET comando_irrigacao = $1
		WHERE id = $2
	`
	if _, err := tx.Exec(ctx, update, string(cmd), systemID); err != nil {
		return fmt.Errorf("failed to update command: %w", err)
	}

	if event != nil {
		insert := `
			INSERT INTO eventos_irrigacao (sistema_id, acao, motivo, timestamp)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, insert, event.SystemID, event.Action, event.Reason, event.OccurredAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit decision: %w", err)
	}

	return nil
}
