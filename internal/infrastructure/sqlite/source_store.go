package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/pubsub"
	"github.com/zjrosen/defreg/internal/source"
)

const sourceColumns = `def_key, prefix, namespace, name, def_type, contents, created_at, updated_at`

// sourceModel is one row of the sources table. Times are Unix seconds.
type sourceModel struct {
	Key       string
	Prefix    string
	Namespace string
	Name      string
	DefType   string
	Contents  []byte
	CreatedAt int64
	UpdatedAt int64
}

func (m *sourceModel) descriptor() (descriptor.Descriptor, error) {
	t, err := descriptor.ParseDefType(m.DefType)
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("row %s: %w", m.Key, err)
	}
	return descriptor.New(m.Prefix, m.Namespace, m.Name, t), nil
}

func scanSource(scanner interface{ Scan(...any) error }) (*sourceModel, error) {
	var m sourceModel
	err := scanner.Scan(&m.Key, &m.Prefix, &m.Namespace, &m.Name, &m.DefType,
		&m.Contents, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

// SourceStore is a source.Loader backed by the sources table. Writes through
// the store are published as changes.
type SourceStore struct {
	db     *sql.DB
	name   string
	broker *pubsub.Broker[source.Change]
}

var _ source.Loader = (*SourceStore)(nil)

func newSourceStore(db *sql.DB, name string) *SourceStore {
	return &SourceStore{
		db:     db,
		name:   name,
		broker: pubsub.NewBroker[source.Change](),
	}
}

// Name implements source.Loader.
func (s *SourceStore) Name() string { return "sqlite:" + s.name }

// Changes subscribes to writes until ctx is cancelled.
func (s *SourceStore) Changes(ctx context.Context) <-chan pubsub.Event[source.Change] {
	return s.broker.Subscribe(ctx)
}

// Close ends every change subscription. The connection stays open.
func (s *SourceStore) Close() {
	s.broker.Close()
}

// Put inserts or replaces the source for d.
func (s *SourceStore) Put(ctx context.Context, d descriptor.Descriptor, contents []byte) error {
	if contents == nil {
		contents = []byte{}
	}
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var existing int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE def_key = ?`, d.Key()).Scan(&existing)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to check source: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(def_key) DO UPDATE SET contents = excluded.contents, updated_at = excluded.updated_at`,
		d.Key(), d.Prefix(), d.Namespace(), d.Name(), d.DefType().String(), contents, now, now,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to save source: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit source: %w", err)
	}

	kind, eventType := source.Created, pubsub.CreatedEvent
	if existing > 0 {
		kind, eventType = source.Changed, pubsub.UpdatedEvent
	}
	dd := d
	s.broker.Publish(eventType, source.Change{Descriptor: &dd, Kind: kind, Origin: s.Name()})
	return nil
}

// Delete removes the source for d and reports whether a row existed.
func (s *SourceStore) Delete(ctx context.Context, d descriptor.Descriptor) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE def_key = ?`, d.Key())
	if err != nil {
		return false, fmt.Errorf("failed to delete source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	dd := d
	s.broker.Publish(pubsub.DeletedEvent, source.Change{Descriptor: &dd, Kind: source.Deleted, Origin: s.Name()})
	return true, nil
}

// Import copies every source from loader matching f into the store and
// returns how many were written.
func (s *SourceStore) Import(ctx context.Context, from source.Loader, f descriptor.Filter) (int, error) {
	found, err := from.Find(f)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", from.Name(), err)
	}
	n := 0
	for _, d := range found {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		src, err := from.Load(d)
		if errors.Is(err, source.ErrNoSource) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("failed to load %s: %w", d, err)
		}
		if err := s.Put(ctx, d, src.Contents); err != nil {
			return n, err
		}
		n++
	}
	log.Info(log.CatDB, "Imported sources", "from", from.Name(), "filter", f.String(), "count", n)
	return n, nil
}

// Load implements source.Loader.
func (s *SourceStore) Load(d descriptor.Descriptor) (source.Source, error) {
	row := s.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE def_key = ?`, d.Key())
	m, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return source.Source{}, source.ErrNoSource
	}
	if err != nil {
		return source.Source{}, fmt.Errorf("failed to load source: %w", err)
	}
	return source.Source{
		Descriptor:   d,
		Contents:     m.Contents,
		Format:       source.FormatFor(d.DefType()),
		Origin:       s.Name(),
		LastModified: time.Unix(m.UpdatedAt, 0),
	}, nil
}

// Exists implements source.Loader.
func (s *SourceStore) Exists(d descriptor.Descriptor) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM sources WHERE def_key = ?`, d.Key()).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.ErrorErr(log.CatDB, "Source lookup failed", err, "descriptor", d.String())
	}
	return err == nil
}

// Find implements source.Loader. A literal namespace narrows the query; the
// filter is applied to every candidate row.
func (s *SourceStore) Find(f descriptor.Filter) ([]descriptor.Descriptor, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	var args []any
	if !strings.ContainsAny(f.Namespace(), "*?[") {
		query += ` WHERE namespace = ? COLLATE NOCASE`
		args = append(args, f.Namespace())
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var out []descriptor.Descriptor
	for rows.Next() {
		m, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		d, err := m.descriptor()
		if err != nil {
			return nil, err
		}
		if f.Match(d) {
			out = append(out, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}
	slices.SortFunc(out, descriptor.Compare)
	return out, nil
}

// Namespaces implements source.Loader.
func (s *SourceStore) Namespaces() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT lower(namespace) FROM sources ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query namespaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("failed to scan namespace: %w", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}
