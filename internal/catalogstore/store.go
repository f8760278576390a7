// Package catalogstore keeps imported catalog bundles in SQLite and serves
// them as descriptors and secondary schemas.
package catalogstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/goliatone/go-catalogform/internal/bundle"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// LatestVersion asks for the newest imported version.
const LatestVersion = "latest"

// ErrNotFound is returned for unknown items, versions and schemas.
var ErrNotFound = errors.New("catalogstore: not found")

// Item summarises an imported catalog item.
type Item struct {
	ID       string
	Name     string
	Latest   string
	Versions int
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTriggerField sets the trigger field used for primary schemas that do
// not declare one.
func WithTriggerField(field string) Option {
	return func(s *Store) {
		s.triggerField = field
	}
}

// WithClock overrides the import timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is a SQLite-backed catalog.
type Store struct {
	db           *sql.DB
	logger       *zap.Logger
	triggerField string
	now          func() time.Time
}

var _ resolver.Fetcher = (*Store)(nil)

// Open opens (and migrates) the store at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalogstore: path is required")
	}
	db, err := sql.Open(DriverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("catalogstore: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalogstore: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalogstore: migrate: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode=WAL;")

	s := &Store{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

func dsn(path string) string {
	const pragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Import upserts a bundle, replacing the secondary schemas of the version.
func (s *Store) Import(ctx context.Context, b bundle.Bundle) (err error) {
	if err := b.Manifest.Validate(); err != nil {
		return err
	}
	manifest, err := json.Marshal(b.Manifest)
	if err != nil {
		return fmt.Errorf("catalogstore: encode manifest: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalogstore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id, version := b.Manifest.ID, b.Manifest.Version
	if _, err = tx.ExecContext(ctx, upsertVersionSQL,
		id, version, b.Manifest.Name, string(manifest), string(b.Primary.Raw()),
		s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("catalogstore: upsert %s@%s: %w", id, version, err)
	}
	if _, err = tx.ExecContext(ctx, deleteSchemasSQL, id, version); err != nil {
		return fmt.Errorf("catalogstore: clear schemas of %s@%s: %w", id, version, err)
	}
	for ref, secondary := range b.Additional {
		if _, err = tx.ExecContext(ctx, insertSchemaSQL, id, version, ref, string(secondary.Raw())); err != nil {
			return fmt.Errorf("catalogstore: insert schema %q: %w", ref, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("catalogstore: commit: %w", err)
	}

	s.logger.Info("bundle imported",
		zap.String("item", id),
		zap.String("version", version),
		zap.Int("schemas", len(b.Additional)),
		zap.Strings("missing", b.Missing),
	)
	return nil
}

// Latest returns the highest version of item in lexical order.
func (s *Store) Latest(ctx context.Context, itemID string) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, selectLatestSQL, itemID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: item %q", ErrNotFound, itemID)
	}
	if err != nil {
		return "", fmt.Errorf("catalogstore: latest %s: %w", itemID, err)
	}
	return version, nil
}

// Versions lists the imported versions of item.
func (s *Store) Versions(ctx context.Context, itemID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, selectVersionsSQL, itemID)
	if err != nil {
		return nil, fmt.Errorf("catalogstore: versions %s: %w", itemID, err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// Items lists imported items.
func (s *Store) Items(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, selectItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("catalogstore: items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Latest, &item.Versions); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Descriptor loads the primary schema of item@version. Version may be
// LatestVersion or empty.
func (s *Store) Descriptor(ctx context.Context, itemID, version string) (*resolver.Descriptor, error) {
	if version == "" || version == LatestVersion {
		latest, err := s.Latest(ctx, itemID)
		if err != nil {
			return nil, err
		}
		version = latest
	}

	var raw string
	err := s.db.QueryRowContext(ctx, selectPrimarySQL, itemID, version).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, itemID, version)
	}
	if err != nil {
		return nil, fmt.Errorf("catalogstore: descriptor %s@%s: %w", itemID, version, err)
	}
	primary, err := schema.Parse([]byte(raw))
	if err != nil {
		return nil, err
	}
	return resolver.NewDescriptor(itemID, version, primary.WithTriggerFallback(s.triggerField))
}

// FetchSchema returns the secondary schema ref of item@version.
func (s *Store) FetchSchema(ctx context.Context, itemID, version, ref string) (schema.Schema, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, selectSchemaSQL, itemID, version, ref).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Schema{}, fmt.Errorf("%w: schema %q for %s@%s", ErrNotFound, ref, itemID, version)
	}
	if err != nil {
		return schema.Schema{}, fmt.Errorf("catalogstore: schema %q: %w", ref, err)
	}
	s.logger.Debug("schema served from store",
		zap.String("source", schema.SourceFromStore(itemID, version, ref).Location()),
	)
	return schema.Parse([]byte(raw))
}

// Delete removes item@version and its schemas.
func (s *Store) Delete(ctx context.Context, itemID, version string) error {
	res, err := s.db.ExecContext(ctx, deleteVersionSQL, itemID, version)
	if err != nil {
		return fmt.Errorf("catalogstore: delete %s@%s: %w", itemID, version, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s@%s", ErrNotFound, itemID, version)
	}
	return nil
}
