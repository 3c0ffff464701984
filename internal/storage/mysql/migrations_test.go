package mysql

import (
	"context"
	"testing"
	"testing/fstest"

	"AgentEscrow-Chain/internal/storage/mysql/mysqltest"
)

func TestMigrateAppliesPendingFiles(t *testing.T) {
	original := embeddedMigrations
	embeddedMigrations = fstest.MapFS{
		"0001_init.sql": {Data: []byte("-- jobs\nCREATE TABLE jobs (id BIGINT);\nCREATE INDEX idx ON jobs (id);")},
		"0002_more.sql": {Data: []byte("CREATE TABLE validators (account VARCHAR(64));")},
		"README.md":     {Data: []byte("ignored")},
	}
	t.Cleanup(func() { embeddedMigrations = original })

	db, drv := mysqltest.New(t,
		mysqltest.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]any{{"0001"}},
		}),
		mysqltest.Begin(),
		mysqltest.Exec(`CREATE TABLE validators (account VARCHAR(64))`, mysqltest.Result{}),
		mysqltest.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mysqltest.Result{AffectedRows: 1}),
		mysqltest.Commit(),
	)

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	drv.AssertConsumed(t)

	calls := drv.Calls()
	last := calls[len(calls)-1]
	if last.Args[0] != "0002" {
		t.Fatalf("recorded version %v, want 0002", last.Args[0])
	}
}

func TestSplitSQLStatementsDropsComments(t *testing.T) {
	got := splitSQLStatements("-- header\nCREATE TABLE a (id INT);\n\n-- second\nCREATE TABLE b (id INT);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (id INT)" || got[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements %q", got)
	}
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected escrow and validation migrations, got %d", len(files))
	}
	if files[0].version != "0001" {
		t.Fatalf("first migration version %s", files[0].version)
	}
}
