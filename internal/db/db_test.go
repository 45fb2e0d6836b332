package db

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMaskPassword(t *testing.T) {
	cases := map[string]string{
		"":                                          "<empty>",
		"postgres://irrigation:s3cret@db:5432/agro": "postgres://irrigation:***@db:5432/agro",
		"postgres://irrigation@db:5432/agro":        "postgres://irrigation@db:5432/agro",
		"host=db user=irrigation password=s3cret":   "host=db user=irrigation password=***",
	}
	for in, want := range cases {
		if got := maskPassword(in); got != want {
			t.Errorf("maskPassword(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnsureSQLiteSchema(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	for _, table := range []string{
		"sistemas_irrigacao",
		"mapeamento_thingspeak",
		"leituras",
		"calculos_et",
		"parametros_cultura",
		"eventos_irrigacao",
	} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	if err := EnsureSQLiteSchema(conn); err != nil {
		t.Fatalf("EnsureSQLiteSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnsureSQLiteSchema_RollsBackOnError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sistemas_irrigacao").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if err := EnsureSQLiteSchema(conn); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
