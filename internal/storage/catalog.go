package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattjoyce/extinit/internal/plugin"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

// Catalog is a SQLite-backed entry point index. It answers (group, name)
// queries directly, so dispatch takes the Selector path against it.
type Catalog struct {
	db *sql.DB
}

// SyncStats reports what Sync wrote.
type SyncStats struct {
	Distributions int `json:"distributions"`
	EntryPoints   int `json:"entry_points"`
}

// OpenCatalog opens the catalog database at path, creating it when missing.
func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// NewCatalog wraps an already bootstrapped database.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Close releases the database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

const selectColumns = `SELECT e.group_name, e.name, e.value,
  d.name, d.version, d.dir, d.checksums
FROM entry_points e
LEFT JOIN distributions d ON d.name = e.dist_name`

// Select implements entrypoint.Selector.
func (c *Catalog) Select(ctx context.Context, group, name string) ([]entrypoint.EntryPoint, error) {
	return c.query(ctx, selectColumns+` WHERE e.group_name = ? AND e.name = ? ORDER BY e.id`, group, name)
}

// EntryPoints implements entrypoint.Provider.
func (c *Catalog) EntryPoints(ctx context.Context, group string) ([]entrypoint.EntryPoint, error) {
	return c.query(ctx, selectColumns+` WHERE e.group_name = ? ORDER BY e.id`, group)
}

func (c *Catalog) query(ctx context.Context, q string, args ...any) ([]entrypoint.EntryPoint, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entry points: %w", err)
	}
	defer rows.Close()

	var out []entrypoint.EntryPoint
	for rows.Next() {
		var (
			ep                               entrypoint.EntryPoint
			distName, version, dir, checksum sql.NullString
		)
		if err := rows.Scan(&ep.Group, &ep.Name, &ep.Value, &distName, &version, &dir, &checksum); err != nil {
			return nil, fmt.Errorf("scan entry point: %w", err)
		}
		if distName.Valid {
			ep.Dist = &entrypoint.Distribution{
				Name:    distName.String,
				Version: version.String,
				Dir:     dir.String,
			}
			if checksum.Valid && checksum.String != "" {
				if err := json.Unmarshal([]byte(checksum.String), &ep.Dist.Checksums); err != nil {
					return nil, fmt.Errorf("decode checksums for %s: %w", distName.String, err)
				}
			}
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry points: %w", err)
	}
	return out, nil
}

// Sync replaces the catalog contents with the entry points declared by dists.
// Entries keep distribution order then manifest order.
func (c *Catalog) Sync(ctx context.Context, dists []*plugin.Distribution) (SyncStats, error) {
	var stats SyncStats

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_points;`); err != nil {
		return stats, fmt.Errorf("clear entry points: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM distributions;`); err != nil {
		return stats, fmt.Errorf("clear distributions: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, d := range dists {
		checksums := d.Checksums
		if checksums == nil {
			checksums = map[string]string{}
		}
		sums, err := json.Marshal(checksums)
		if err != nil {
			return stats, fmt.Errorf("encode checksums for %s: %w", d.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO distributions(name, version, dir, checksums, synced_at) VALUES(?, ?, ?, ?, ?);`,
			d.Name, d.Version, d.Path, string(sums), now,
		); err != nil {
			return stats, fmt.Errorf("insert distribution %s: %w", d.Name, err)
		}
		stats.Distributions++

		for _, ep := range d.All() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entry_points(group_name, name, value, dist_name) VALUES(?, ?, ?, ?);`,
				ep.Group, ep.Name, ep.Value, d.Name,
			); err != nil {
				return stats, fmt.Errorf("insert entry point %s: %w", ep.Value, err)
			}
			stats.EntryPoints++
		}
	}

	if err := tx.Commit(); err != nil {
		return SyncStats{}, fmt.Errorf("commit sync: %w", err)
	}
	return stats, nil
}

// Count returns the number of catalogued entry points.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entry_points;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entry points: %w", err)
	}
	return n, nil
}
