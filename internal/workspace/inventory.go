package workspace

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
)

// Record is the inventory entry for one experiment instance: content hashes
// of everything that feeds its rendered artifacts. Matching hashes mean a
// re-run of setup can skip regeneration.
type Record struct {
	Experiment   string
	ContextHash  string
	TemplateHash string
	SoftwareHash string
}

// Inventory is the sqlite-backed index of per-experiment records. The
// lifecycle is explicit: constructed once at process start, closed by the
// owner.
type Inventory struct {
	db *sql.DB
}

const inventorySchema = `
CREATE TABLE IF NOT EXISTS inventory (
	experiment    TEXT PRIMARY KEY,
	context_hash  TEXT NOT NULL,
	template_hash TEXT NOT NULL,
	software_hash TEXT NOT NULL,
	updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);`

// OpenInventory opens (creating if needed) the workspace inventory index.
func OpenInventory(dir string) (*Inventory, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, "inventory.db"))
	if err != nil {
		return nil, fmt.Errorf("workspace: opening inventory: %w", err)
	}
	if _, err := db.Exec(inventorySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace: creating inventory schema: %w", err)
	}
	return &Inventory{db: db}, nil
}

// Close releases the underlying database.
func (inv *Inventory) Close() error {
	return inv.db.Close()
}

// Put upserts the record for an experiment.
func (inv *Inventory) Put(ctx context.Context, rec Record) error {
	_, err := inv.db.ExecContext(ctx, `
		INSERT INTO inventory (experiment, context_hash, template_hash, software_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(experiment) DO UPDATE SET
			context_hash = excluded.context_hash,
			template_hash = excluded.template_hash,
			software_hash = excluded.software_hash,
			updated_at = datetime('now')`,
		rec.Experiment, rec.ContextHash, rec.TemplateHash, rec.SoftwareHash)
	if err != nil {
		return fmt.Errorf("workspace: writing inventory record for %s: %w", rec.Experiment, err)
	}
	return nil
}

// Get fetches the record for an experiment, reporting whether one exists.
func (inv *Inventory) Get(ctx context.Context, experiment string) (Record, bool, error) {
	var rec Record
	err := inv.db.QueryRowContext(ctx, `
		SELECT experiment, context_hash, template_hash, software_hash
		FROM inventory WHERE experiment = ?`, experiment).
		Scan(&rec.Experiment, &rec.ContextHash, &rec.TemplateHash, &rec.SoftwareHash)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("workspace: reading inventory record for %s: %w", experiment, err)
	}
	return rec, true, nil
}

// UpToDate reports whether the stored record matches the given hashes.
func (inv *Inventory) UpToDate(ctx context.Context, rec Record) (bool, error) {
	stored, ok, err := inv.Get(ctx, rec.Experiment)
	if err != nil || !ok {
		return false, err
	}
	match := stored.ContextHash == rec.ContextHash &&
		stored.TemplateHash == rec.TemplateHash &&
		stored.SoftwareHash == rec.SoftwareHash
	if !match {
		ctxlog.FromContext(ctx).Debug("Inventory record stale.", "experiment", rec.Experiment)
	}
	return match, nil
}

// HashContext digests the resolved variable bindings of an instance into a
// stable content hash.
func HashContext(vars *conf.VariableTable) string {
	h := sha256.New()
	for _, n := range vars.Names() {
		v, _ := vars.Get(n)
		fmt.Fprintf(h, "%s=%s\n", n, v.Text())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashLines digests rendered script lines or a software-environment
// description.
func HashLines(lines []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
