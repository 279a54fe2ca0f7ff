package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("create table a (id text); insert into a values ('x;y');")
	if len(stmts) != 2 {
		t.Fatalf("statements = %d: %q", len(stmts), stmts)
	}
	if stmts[1] != " insert into a values ('x;y');" {
		t.Fatalf("semicolon inside a string literal must not split: %q", stmts[1])
	}
}

func TestCollectSQLSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0002_b.up.sql", "select 2;")
	writeFile(t, dir, "0001_a.up.sql", "select 1;")
	writeFile(t, dir, "0001_a.down.sql", "select 0;")

	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(files) != 2 || files[0].base != "0001_a.up.sql" || files[1].base != "0002_b.up.sql" {
		t.Fatalf("files = %+v", files)
	}

	missing, err := collectSQL(filepath.Join(dir, "nope"), ".sql")
	if err != nil || missing != nil {
		t.Fatalf("missing dir = %v, %v; want nil, nil", missing, err)
	}
}

func TestUpAppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dir := t.TempDir()
	writeFile(t, dir, "0001_init.up.sql", "create table widgets (id text primary key);")
	writeFile(t, dir, "0002_more.up.sql", "create table gadgets (id text primary key);")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec("create table gadgets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_more.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewManager(db, dir, "")
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dir := t.TempDir()
	writeFile(t, dir, "0001_init.up.sql", "create table widgets (id text);")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))

	mgr := NewManager(db, dir, "")
	if err := mgr.Down(context.Background()); err == nil {
		t.Fatal("Down without a .down.sql must fail")
	}
}
