package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"SynthLedger/internal/observability"

	"github.com/rs/zerolog"
)

// migrationTable tracks applied schema versions. It lives in public because
// the op_log and projections schemas are themselves created by migrations.
const migrationTable = "public.synthledger_migrations"

// migrationScript is one versioned SQL file on disk, named
// {version}_{name}.up.sql with a matching .down.sql rollback.
type migrationScript struct {
	version  string
	filename string
}

// Migrator applies the ledger schema (op_log, projections) from versioned
// SQL files, one transaction per version. Reruns are no-ops for versions
// already recorded.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string) *Migrator {
	return &Migrator{
		db:     db,
		dir:    migrationsDir,
		logger: observability.NewLogger("migrator"),
	}
}

// Up applies every pending up-migration in version order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureTrackingTable(ctx); err != nil {
		return fmt.Errorf("migration tracking table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	scripts, err := m.scriptsOnDisk(".up.sql")
	if err != nil {
		return fmt.Errorf("scan %s: %w", m.dir, err)
	}

	pending := 0
	for _, script := range scripts {
		if applied[script.version] {
			continue
		}
		pending++

		if err := m.runScript(ctx, script.filename, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO `+migrationTable+` (version, filename) VALUES ($1, $2)`,
				script.version, script.filename)
			return err
		}); err != nil {
			return fmt.Errorf("apply %s: %w", script.filename, err)
		}

		m.logger.Info().
			Str("version", script.version).
			Str("file", script.filename).
			Msg("migration applied")
	}

	m.logger.Info().
		Int("applied", pending).
		Int("total", len(scripts)).
		Msg("schema up to date")
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTrackingTable(ctx); err != nil {
		return fmt.Errorf("migration tracking table: %w", err)
	}

	var version, upFile string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM `+migrationTable+` ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upFile)
	if err == sql.ErrNoRows {
		m.logger.Info().Msg("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest applied version: %w", err)
	}

	downFile := strings.Replace(upFile, ".up.sql", ".down.sql", 1)
	if err := m.runScript(ctx, downFile, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM `+migrationTable+` WHERE version = $1`, version)
		return err
	}); err != nil {
		return fmt.Errorf("roll back %s: %w", downFile, err)
	}

	m.logger.Info().
		Str("version", version).
		Str("file", downFile).
		Msg("migration rolled back")
	return nil
}

// runScript executes one SQL file and its bookkeeping statement in a single
// transaction, so a half-applied version never gets recorded.
func (m *Migrator) runScript(ctx context.Context, filename string, record func(*sql.Tx) error) error {
	body, err := os.ReadFile(filepath.Join(m.dir, filename))
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record version: %w", err)
	}

	return tx.Commit()
}

func (m *Migrator) ensureTrackingTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// scriptsOnDisk lists migration files with the given suffix in version
// order. A file without a {version}_{name} shape is a packaging mistake and
// fails the run rather than being applied under a guessed version.
func (m *Migrator) scriptsOnDisk(suffix string) ([]migrationScript, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var scripts []migrationScript
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		version, _, found := strings.Cut(name, "_")
		if !found || version == "" {
			return nil, fmt.Errorf("migration %s: name must be {version}_{name}%s", name, suffix)
		}
		scripts = append(scripts, migrationScript{version: version, filename: name})
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}
