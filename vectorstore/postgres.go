package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/feature"
)

// pgSchemaVersion is bumped on incompatible table or column changes.
const pgSchemaVersion = 1

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS huevec_schema (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS huevec_revisions (
		revision TEXT PRIMARY KEY,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		finalized_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS huevec_word_vectors (
		word TEXT NOT NULL,
		revision TEXT NOT NULL,
		sample_count BIGINT NOT NULL,
		mean DOUBLE PRECISION[] NOT NULL,
		m2 DOUBLE PRECISION[] NOT NULL,
		PRIMARY KEY (revision, word)
	)`,
	`CREATE TABLE IF NOT EXISTS huevec_vectors (
		word TEXT NOT NULL,
		revision TEXT NOT NULL,
		image_id TEXT NOT NULL,
		vals REAL[] NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (revision, word, image_id)
	)`,
	`CREATE INDEX IF NOT EXISTS huevec_vectors_revision_idx ON huevec_vectors (revision)`,
}

// PostgresOptions configures a PostgresStore.
type PostgresOptions struct {
	// MaxOpenConns caps the connection pool. Defaults to 8.
	MaxOpenConns int

	// MaxIdleConns defaults to 4.
	MaxIdleConns int
}

// PostgresStore keeps vectors in PostgreSQL so several machines can
// contribute to the same revisions.
type PostgresStore struct {
	db     *sqlx.DB
	closed atomic.Bool
}

// NewPostgresStore connects to dsn, creates missing tables and
// verifies the schema version.
func NewPostgresStore(ctx context.Context, dsn string, optFns ...func(o *PostgresOptions)) (*PostgresStore, error) {
	opts := PostgresOptions{
		MaxOpenConns: 8,
		MaxIdleConns: 4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	s := &PostgresStore{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	for _, stmt := range pgSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	var version int
	err := s.db.GetContext(ctx, &version, `SELECT version FROM huevec_schema LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.ExecContext(ctx, `INSERT INTO huevec_schema (version) VALUES ($1)`, pgSchemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if version != pgSchemaVersion {
		return &CorruptError{Reason: fmt.Sprintf("schema version %d, expected %d", version, pgSchemaVersion)}
	}
	return nil
}

func (s *PostgresStore) guard() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// finalizedTx reads the finalized flag inside a transaction.
func finalizedTx(ctx context.Context, tx *sqlx.Tx, revision string) (bool, error) {
	var finalized bool
	err := tx.GetContext(ctx, &finalized, `SELECT finalized FROM huevec_revisions WHERE revision = $1`, revision)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return finalized, err
}

// guardedWrite runs write inside a transaction that first checks the
// revision is not finalized.
func (s *PostgresStore) guardedWrite(ctx context.Context, revision string, write func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	finalized, err := finalizedTx(ctx, tx, revision)
	if err != nil {
		return err
	}
	if finalized {
		return ErrRevisionFinalized
	}

	if err := write(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// PutVector implements Store.
func (s *PostgresStore) PutVector(ctx context.Context, v feature.Vector) error {
	if err := validateVector(v); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	return s.guardedWrite(ctx, v.Provenance.Revision, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO huevec_vectors (word, revision, image_id, vals, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (revision, word, image_id)
			DO UPDATE SET vals = EXCLUDED.vals, created_at = EXCLUDED.created_at`,
			v.Provenance.Word, v.Provenance.Revision, v.Provenance.ImageID,
			pq.Array(v.Values), v.Provenance.CreatedAt,
		)
		return err
	})
}

// GetVector implements Store.
func (s *PostgresStore) GetVector(ctx context.Context, word, revision, imageID string) (feature.Vector, error) {
	var v feature.Vector

	if err := validateKey(word, revision, imageID); err != nil {
		return v, err
	}
	if err := s.guard(); err != nil {
		return v, err
	}

	var row struct {
		Vals      pq.Float32Array `db:"vals"`
		CreatedAt time.Time       `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT vals, created_at FROM huevec_vectors
		WHERE revision = $1 AND word = $2 AND image_id = $3`,
		revision, word, imageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}

	v.Values = []float32(row.Vals)
	v.Provenance = feature.Provenance{
		ImageID:   imageID,
		Word:      word,
		Revision:  revision,
		CreatedAt: row.CreatedAt,
	}
	return v, nil
}

// ListImages implements Store.
func (s *PostgresStore) ListImages(ctx context.Context, word, revision string) ([]string, error) {
	if err := validateKey(word, revision); err != nil {
		return nil, err
	}
	if err := s.guard(); err != nil {
		return nil, err
	}

	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT image_id FROM huevec_vectors
		WHERE revision = $1 AND word = $2
		ORDER BY image_id`,
		revision, word,
	)
	return out, err
}

// PutWordVector implements Store.
func (s *PostgresStore) PutWordVector(ctx context.Context, wv aggregate.WordVector) error {
	if err := validateKey(wv.Word, wv.Revision); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	return s.guardedWrite(ctx, wv.Revision, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO huevec_word_vectors (word, revision, sample_count, mean, m2)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (revision, word)
			DO UPDATE SET sample_count = EXCLUDED.sample_count, mean = EXCLUDED.mean, m2 = EXCLUDED.m2`,
			wv.Word, wv.Revision, int64(wv.Count),
			pq.Array(wv.Mean), pq.Array(wv.M2),
		)
		return err
	})
}

// GetWordVector implements Store.
func (s *PostgresStore) GetWordVector(ctx context.Context, word, revision string) (aggregate.WordVector, error) {
	var wv aggregate.WordVector

	if err := validateKey(word, revision); err != nil {
		return wv, err
	}
	if err := s.guard(); err != nil {
		return wv, err
	}

	var row struct {
		SampleCount int64           `db:"sample_count"`
		Mean        pq.Float64Array `db:"mean"`
		M2          pq.Float64Array `db:"m2"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT sample_count, mean, m2 FROM huevec_word_vectors
		WHERE revision = $1 AND word = $2`,
		revision, word,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return wv, ErrNotFound
	}
	if err != nil {
		return wv, err
	}

	return aggregate.WordVector{
		Word:     word,
		Revision: revision,
		Count:    uint64(row.SampleCount),
		Mean:     []float64(row.Mean),
		M2:       []float64(row.M2),
	}, nil
}

// ListWords implements Store.
func (s *PostgresStore) ListWords(ctx context.Context, revision string) ([]string, error) {
	if err := validateKey(revision); err != nil {
		return nil, err
	}
	if err := s.guard(); err != nil {
		return nil, err
	}

	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT word FROM huevec_word_vectors WHERE revision = $1
		UNION
		SELECT word FROM huevec_vectors WHERE revision = $1
		ORDER BY word`,
		revision,
	)
	return out, err
}

// ListRevisions implements Store.
func (s *PostgresStore) ListRevisions(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT revision FROM huevec_revisions
		UNION
		SELECT revision FROM huevec_word_vectors
		UNION
		SELECT revision FROM huevec_vectors
		ORDER BY revision`,
	)
	return out, err
}

// Finalize implements Store.
func (s *PostgresStore) Finalize(ctx context.Context, revision string) error {
	if err := validateKey(revision); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO huevec_revisions (revision, finalized, finalized_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (revision)
		DO UPDATE SET finalized = TRUE, finalized_at = EXCLUDED.finalized_at
		WHERE huevec_revisions.finalized = FALSE`,
		revision, time.Now().UTC(),
	)
	return err
}

// Finalized implements Store.
func (s *PostgresStore) Finalized(ctx context.Context, revision string) (bool, error) {
	if err := validateKey(revision); err != nil {
		return false, err
	}
	if err := s.guard(); err != nil {
		return false, err
	}

	var finalized bool
	err := s.db.GetContext(ctx, &finalized, `SELECT finalized FROM huevec_revisions WHERE revision = $1`, revision)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return finalized, err
}

// Dump implements Store.
func (s *PostgresStore) Dump(ctx context.Context, revisions ...string) (*Dump, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	// Empty filter means all revisions.
	filterSQL := `($1::text[] IS NULL OR revision = ANY($1))`
	var filter any
	if len(revisions) > 0 {
		filter = pq.Array(revisions)
	}

	d := &Dump{}

	var wvRows []struct {
		Word        string          `db:"word"`
		Revision    string          `db:"revision"`
		SampleCount int64           `db:"sample_count"`
		Mean        pq.Float64Array `db:"mean"`
		M2          pq.Float64Array `db:"m2"`
	}
	if err := s.db.SelectContext(ctx, &wvRows,
		`SELECT word, revision, sample_count, mean, m2 FROM huevec_word_vectors WHERE `+filterSQL, filter,
	); err != nil {
		return nil, err
	}
	for _, row := range wvRows {
		d.WordVectors = append(d.WordVectors, aggregate.WordVector{
			Word:     row.Word,
			Revision: row.Revision,
			Count:    uint64(row.SampleCount),
			Mean:     []float64(row.Mean),
			M2:       []float64(row.M2),
		})
	}

	var vRows []struct {
		Word      string          `db:"word"`
		Revision  string          `db:"revision"`
		ImageID   string          `db:"image_id"`
		Vals      pq.Float32Array `db:"vals"`
		CreatedAt time.Time       `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &vRows,
		`SELECT word, revision, image_id, vals, created_at FROM huevec_vectors WHERE `+filterSQL, filter,
	); err != nil {
		return nil, err
	}
	for _, row := range vRows {
		d.Vectors = append(d.Vectors, feature.Vector{
			Values: []float32(row.Vals),
			Provenance: feature.Provenance{
				ImageID:   row.ImageID,
				Word:      row.Word,
				Revision:  row.Revision,
				CreatedAt: row.CreatedAt,
			},
		})
	}

	var rRows []struct {
		Revision    string       `db:"revision"`
		Finalized   bool         `db:"finalized"`
		FinalizedAt sql.NullTime `db:"finalized_at"`
	}
	if err := s.db.SelectContext(ctx, &rRows,
		`SELECT revision, finalized, finalized_at FROM huevec_revisions WHERE `+filterSQL, filter,
	); err != nil {
		return nil, err
	}
	for _, row := range rRows {
		d.Revisions = append(d.Revisions, RevisionState{
			Revision:    row.Revision,
			Finalized:   row.Finalized,
			FinalizedAt: row.FinalizedAt.Time,
		})
	}

	sortDump(d)
	return d, nil
}

// Restore implements Store.
func (s *PostgresStore) Restore(ctx context.Context, d *Dump, optFns ...func(o *RestoreOptions)) error {
	opts := RestoreOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	for _, wv := range d.WordVectors {
		if err := restoreWordVector(ctx, s, wv, opts.MergeWords); err != nil {
			return err
		}
	}
	for _, v := range d.Vectors {
		if err := s.PutVector(ctx, v); err != nil {
			return err
		}
	}
	for _, state := range d.Revisions {
		if !state.Finalized {
			continue
		}
		if err := s.applyRevisionState(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) applyRevisionState(ctx context.Context, state RevisionState) error {
	if err := validateKey(state.Revision); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO huevec_revisions (revision, finalized, finalized_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (revision)
		DO UPDATE SET finalized = EXCLUDED.finalized, finalized_at = EXCLUDED.finalized_at
		WHERE huevec_revisions.finalized = FALSE`,
		state.Revision, state.Finalized, state.FinalizedAt,
	)
	return err
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
