package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type migration struct {
	version int
	name    string
	script  string
}

// embedded loads the bundled schema revisions, ordered by the numeric
// prefix of each filename (0001_init.sql, 0002_....sql).
func embedded() ([]migration, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	var revisions []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version prefix: %w", name, err)
		}
		script, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, migration{version: version, name: name, script: string(script)})
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].version < revisions[j].version })
	return revisions, nil
}

// Migrate brings the checklist schema up to the latest embedded revision.
// All pending revisions apply inside one transaction, so a failed step
// leaves the recorded version untouched.
func Migrate(db *sql.DB) error {
	revisions, err := embedded()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := currentVersion(tx)
	if err != nil {
		return err
	}
	for _, rev := range revisions {
		if rev.version <= current {
			continue
		}
		if _, err := tx.Exec(rev.script); err != nil {
			return fmt.Errorf("apply %s: %w", rev.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, rev.version); err != nil {
			return fmt.Errorf("record version %d: %w", rev.version, err)
		}
		current = rev.version
	}
	return tx.Commit()
}

func currentVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var version int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("seed schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return version, nil
}
