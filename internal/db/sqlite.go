package db

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// OpenSQLite opens a SQLite database file and ensures the tables exist.
// Intended for single-node deployments and local runs.
func OpenSQLite(lc fx.Lifecycle, logger *zap.Logger, path string) (*sql.DB, error) {
	logger.Info("opening sqlite database", zap.String("path", path))

	conn, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] open sqlite at %q: %w", path, err)
	}

	// SQLite serializes writers
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("[DATABASE] %s: %w", pragma, err)
		}
	}

	if err := EnsureSQLiteSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conn.PingContext(ctx); err != nil {
				return fmt.Errorf("[DATABASE CONNECTION FAILED] cannot open sqlite database: %w", err)
			}
			logger.Info("sqlite database ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("sqlite database closed")
			return conn.Close()
		},
	})

	return conn, nil
}

const schemaSystems = `
CREATE TABLE IF NOT EXISTS sistemas_irrigacao (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nome_sistema TEXT NOT NULL,
    thingspeak_channel_id TEXT,
    thingspeak_read_apikey TEXT,
    cultura_id_atual INTEGER,
    comando_irrigacao TEXT NOT NULL DEFAULT 'DESLIGAR'
);
`

const schemaMappings = `
CREATE TABLE IF NOT EXISTS mapeamento_thingspeak (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sistema_id INTEGER NOT NULL REFERENCES sistemas_irrigacao(id),
    field_number INTEGER NOT NULL,
    tipo_leitura TEXT NOT NULL
);
`

const schemaReadings = `
CREATE TABLE IF NOT EXISTS leituras (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mapeamento_id INTEGER NOT NULL REFERENCES mapeamento_thingspeak(id),
    valor REAL NOT NULL,
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leituras_mapeamento_timestamp ON leituras (mapeamento_id, timestamp);
`

const schemaEstimates = `
CREATE TABLE IF NOT EXISTS calculos_et (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sistema_id INTEGER NOT NULL REFERENCES sistemas_irrigacao(id),
    valor_et_calculado REAL NOT NULL,
    timestamp_calculo TEXT NOT NULL
);
`

const schemaCultureParameters = `
CREATE TABLE IF NOT EXISTS parametros_cultura (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cultura_id INTEGER NOT NULL,
    nome_parametro TEXT NOT NULL,
    valor REAL NOT NULL,
    UNIQUE (cultura_id, nome_parametro)
);
`

const schemaEvents = `
CREATE TABLE IF NOT EXISTS eventos_irrigacao (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sistema_id INTEGER NOT NULL REFERENCES sistemas_irrigacao(id),
    acao TEXT NOT NULL,
    motivo TEXT,
    timestamp TEXT NOT NULL
);
`

// EnsureSQLiteSchema creates the worker's tables when missing
func EnsureSQLiteSchema(conn *sql.DB) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaSystems,
		schemaMappings,
		schemaReadings,
		schemaEstimates,
		schemaCultureParameters,
		schemaEvents,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
