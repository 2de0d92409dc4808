package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
)

// newRunDB opens a shared in-memory database with the runs schema applied,
// mirroring the dual writer/reader shape used in production. The database
// name comes from t.Name() so parallel tests never see each other's runs.
func newRunDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name: subtest names contain "/" and would
	// otherwise be read as path segments or query parameters in the DSN.
	// journal_mode(WAL) is omitted because it has no effect in memory.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		url.PathEscape(t.Name()),
	)

	writer := openRunConn(t, dsn, 1)
	reader := openRunConn(t, dsn, 4)

	db := &DB{Writer: writer, Reader: reader, path: dsn}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(db.Writer); err != nil {
		t.Fatalf("apply runs schema: %v", err)
	}

	return db
}

// openRunConn opens one connection pool against the test DSN and fails the
// test if the database is unreachable.
func openRunConn(t *testing.T, dsn string, maxConns int) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open run db: %v", err)
	}
	conn.SetMaxOpenConns(maxConns)

	if err := conn.PingContext(context.Background()); err != nil {
		_ = conn.Close()
		t.Fatalf("ping run db: %v", err)
	}
	return conn
}
