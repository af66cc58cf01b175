package history

import "testing"

func TestLoadMigrationFiles(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one migration file")
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].version > files[i].version {
			t.Fatalf("migrations out of order: %s before %s", files[i-1].name, files[i].name)
		}
	}
	if files[0].version != "0001" {
		t.Fatalf("unexpected first version: %s", files[0].version)
	}
	if len(files[0].statements) == 0 {
		t.Fatal("migration has no statements")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	statements := splitSQLStatements("CREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n")
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(statements))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if got := parseMigrationVersion("0001_create_execution_records.sql"); got != "0001" {
		t.Fatalf("unexpected version: %s", got)
	}
	if got := parseMigrationVersion("0002.sql"); got != "0002" {
		t.Fatalf("unexpected version: %s", got)
	}
}
