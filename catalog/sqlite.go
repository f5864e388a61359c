package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/zonebnation/ebizimba-content/catalog/migrations"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// SQLiteCatalog is a catalog kept in a local SQLite database, using the same
// row layout as the remote ipfs_content table.
type SQLiteCatalog struct {
	db      *sql.DB
	path    string
	mapping RowMapping
	log     *slog.Logger
}

// NewSQLiteCatalog opens (or creates) the catalog database at dbPath.
func NewSQLiteCatalog(dbPath string, mapping RowMapping, log *slog.Logger) (*SQLiteCatalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	c := &SQLiteCatalog{
		db:      db,
		path:    dbPath,
		mapping: mapping,
		log:     common.OrDefault(log),
	}

	if err := c.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return c, nil
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// Path returns the database file path.
func (c *SQLiteCatalog) Path() string {
	return c.path
}

func (c *SQLiteCatalog) migrate(fsys fs.FS) error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := c.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := c.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// List returns every stored descriptor.
func (c *SQLiteCatalog) List(ctx context.Context) ([]interfaces.ContentDescriptor, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT cid, title, type, chunks, source_locations, mime_type, size, created_at
		FROM ipfs_content
		ORDER BY created_at, cid
	`)
	if err != nil {
		return nil, fmt.Errorf("listing content: %w", err)
	}
	defer rows.Close()

	var descs []interfaces.ContentDescriptor
	for rows.Next() {
		var (
			row                    Row
			chunksJSON, sourceJSON string
			createdAt              string
		)
		if err := rows.Scan(&row.CID, &row.Title, &row.Type, &chunksJSON, &sourceJSON, &row.MimeType, &row.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning content row: %w", err)
		}
		if err := json.Unmarshal([]byte(chunksJSON), &row.Chunks); err != nil {
			return nil, fmt.Errorf("unmarshalling chunks of %s: %w", row.CID, err)
		}
		if err := json.Unmarshal([]byte(sourceJSON), &row.SourceLocations); err != nil {
			return nil, fmt.Errorf("unmarshalling source locations of %s: %w", row.CID, err)
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		desc, err := c.mapping.Descriptor(row)
		if err != nil {
			c.log.Warn("Skipping catalog row", slog.String("cid", row.CID), "err", err)
			continue
		}
		descs = append(descs, desc)
	}
	return descs, rows.Err()
}

// Insert stores or replaces the descriptor's row.
func (c *SQLiteCatalog) Insert(ctx context.Context, desc interfaces.ContentDescriptor) error {
	row := RowFromDescriptor(desc)

	chunksJSON, err := json.Marshal(nonNil(row.Chunks))
	if err != nil {
		return fmt.Errorf("marshalling chunks: %w", err)
	}
	sourceJSON, err := json.Marshal(nonNil(row.SourceLocations))
	if err != nil {
		return fmt.Errorf("marshalling source locations: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO ipfs_content (cid, title, type, chunks, source_locations, mime_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cid) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			chunks = excluded.chunks,
			source_locations = excluded.source_locations,
			mime_type = excluded.mime_type,
			size = excluded.size
	`, row.CID, row.Title, row.Type, string(chunksJSON), string(sourceJSON), row.MimeType, row.Size,
		row.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving content %s: %w", row.CID, err)
	}
	return nil
}

// Delete removes the row for id. Deleting a missing id is not an error.
func (c *SQLiteCatalog) Delete(ctx context.Context, id interfaces.ContentID) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM ipfs_content WHERE cid = ?", string(id)); err != nil {
		return fmt.Errorf("deleting content %s: %w", id, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
