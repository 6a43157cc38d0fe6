// Package postgres holds the durable revision store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"revtrail/internal/revision/models"
	"revtrail/internal/revision/store"
	"revtrail/pkg/platform/sentinel"
	txcontext "revtrail/pkg/platform/tx"
)

// Store implements store.Store on database/sql. When the context carries a
// transaction (pkg/platform/tx) writes join the caller's unit of work, which
// is how the recorder keeps the audit row inside the mutating transaction.
type Store struct {
	db *sql.DB
}

// New creates a postgres-backed revision store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// EnsureSchema creates the revisions table and its indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS revisions (
			id          BIGSERIAL PRIMARY KEY,
			ts          BIGINT NOT NULL,
			username    TEXT NOT NULL,
			ip_address  TEXT NOT NULL,
			user_agent  TEXT NOT NULL,
			rev_type    TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			entity_id   BIGINT NOT NULL,
			changes     BYTEA NOT NULL,
			compressed  BOOLEAN NOT NULL DEFAULT FALSE,
			reason      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_revisions_entity ON revisions (entity_name, entity_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_revisions_username ON revisions (username)`,
		`CREATE INDEX IF NOT EXISTS idx_revisions_ts ON revisions (ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure revisions schema: %w", err)
		}
	}
	return nil
}

const revisionColumns = "id, ts, username, ip_address, user_agent, rev_type, entity_name, entity_id, changes, compressed, reason"

func (s *Store) Append(ctx context.Context, rev *models.Revision) error {
	payload, err := models.EncodeChanges(rev.Changes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO revisions (ts, username, ip_address, user_agent, rev_type, entity_name, entity_id, changes, compressed, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		RETURNING id
	`
	err = s.execer(ctx).QueryRowContext(ctx, query,
		rev.Timestamp,
		rev.Username,
		rev.IPAddress,
		rev.UserAgent,
		string(rev.Type),
		rev.EntityName,
		rev.EntityID,
		payload,
		rev.Reason,
	).Scan(&rev.ID)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	rev.Compressed = false
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*models.Revision, error) {
	query := fmt.Sprintf(`SELECT %s FROM revisions WHERE id = $1`, revisionColumns)
	rev, err := scanRevision(s.execer(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rev, err
}

func (s *Store) ListByEntity(ctx context.Context, entityName string, entityID int64, page models.Page) ([]*models.Revision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM revisions
		WHERE entity_name = $1 AND entity_id = $2
		ORDER BY ts, id
		LIMIT $3 OFFSET $4
	`, revisionColumns)
	return s.queryRevisions(ctx, query, entityName, entityID, page.Limit, page.Offset)
}

func (s *Store) ListByUsername(ctx context.Context, username string, page models.Page) ([]*models.Revision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM revisions
		WHERE username = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2 OFFSET $3
	`, revisionColumns)
	return s.queryRevisions(ctx, query, username, page.Limit, page.Offset)
}

func (s *Store) ListByType(ctx context.Context, t models.Type, page models.Page) ([]*models.Revision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM revisions
		WHERE rev_type = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2 OFFSET $3
	`, revisionColumns)
	return s.queryRevisions(ctx, query, string(t), page.Limit, page.Offset)
}

func (s *Store) ListByDateRange(ctx context.Context, from, to time.Time, page models.Page) ([]*models.Revision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM revisions
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts, id
		LIMIT $3 OFFSET $4
	`, revisionColumns)
	return s.queryRevisions(ctx, query, from.UnixMilli(), to.UnixMilli(), page.Limit, page.Offset)
}

func (s *Store) Latest(ctx context.Context, entityName string, entityID int64) (*models.Revision, error) {
	// Highest ID breaks timestamp ties deterministically.
	query := fmt.Sprintf(`
		SELECT %s FROM revisions
		WHERE entity_name = $1 AND entity_id = $2
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`, revisionColumns)
	rev, err := scanRevision(s.execer(ctx).QueryRowContext(ctx, query, entityName, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rev, err
}

func (s *Store) Search(ctx context.Context, c models.SearchCriteria, page models.Page) ([]*models.Revision, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if c.EntityName != "" {
		conds = append(conds, "entity_name = "+arg(c.EntityName))
	}
	if c.EntityID != 0 {
		conds = append(conds, "entity_id = "+arg(c.EntityID))
	}
	if c.Username != "" {
		conds = append(conds, "username = "+arg(c.Username))
	}
	if c.Type != "" {
		conds = append(conds, "rev_type = "+arg(string(c.Type)))
	}
	if !c.From.IsZero() {
		conds = append(conds, "ts >= "+arg(c.From.UnixMilli()))
	}
	if !c.To.IsZero() {
		conds = append(conds, "ts <= "+arg(c.To.UnixMilli()))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT %s FROM revisions
		%s
		ORDER BY ts DESC, id DESC
		LIMIT %s OFFSET %s
	`, revisionColumns, where, arg(page.Limit), arg(page.Offset))
	return s.queryRevisions(ctx, query, args...)
}

func (s *Store) CountByEntity(ctx context.Context, entityName string, entityID int64) (int64, error) {
	return s.countWhere(ctx, "entity_name = $1 AND entity_id = $2", entityName, entityID)
}

func (s *Store) CountByUsername(ctx context.Context, username string) (int64, error) {
	return s.countWhere(ctx, "username = $1", username)
}

func (s *Store) CountByType(ctx context.Context, t models.Type) (int64, error) {
	return s.countWhere(ctx, "rev_type = $1", string(t))
}

// DeleteOlderThan removes expired revisions in bounded batches so retention
// never holds long locks on a large table.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var total int64
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM revisions
			WHERE id IN (
				SELECT id FROM revisions WHERE ts < $1 ORDER BY ts, id LIMIT $2
			)
		`, cutoff.UnixMilli(), batchSize)
		if err != nil {
			return total, fmt.Errorf("delete expired revisions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

// DeleteExcess trims each entity group to maxPerEntity revisions, oldest
// first. Batched for the same lock-holding reasons as DeleteOlderThan.
func (s *Store) DeleteExcess(ctx context.Context, maxPerEntity, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var total int64
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM revisions
			WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (
						PARTITION BY entity_name, entity_id
						ORDER BY ts DESC, id DESC
					) AS rn
					FROM revisions
				) ranked
				WHERE ranked.rn > $1
				ORDER BY id
				LIMIT $2
			)
		`, maxPerEntity, batchSize)
		if err != nil {
			return total, fmt.Errorf("delete excess revisions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

func (s *Store) ListCompressible(ctx context.Context, threshold, limit int) ([]store.CompressibleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, changes FROM revisions
		WHERE compressed = FALSE AND LENGTH(changes) > $1
		ORDER BY id
		LIMIT $2
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list compressible revisions: %w", err)
	}
	defer rows.Close()

	var out []store.CompressibleRow
	for rows.Next() {
		var r store.CompressibleRow
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CompressChanges(ctx context.Context, id int64, compressed []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE revisions SET changes = $1, compressed = TRUE
		WHERE id = $2 AND compressed = FALSE
	`, compressed, id)
	if err != nil {
		return fmt.Errorf("compress revision %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	stats := &models.Stats{
		ByType:     make(map[models.Type]int64),
		ComputedAt: now,
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE ts >= $1),
			COUNT(*) FILTER (WHERE ts >= $2),
			COUNT(*) FILTER (WHERE ts >= $3)
		FROM revisions
	`,
		now.Add(-24*time.Hour).UnixMilli(),
		now.Add(-7*24*time.Hour).UnixMilli(),
		now.Add(-30*24*time.Hour).UnixMilli(),
	).Scan(&stats.Total, &stats.Last24h, &stats.Last7d, &stats.Last30d)
	if err != nil {
		return nil, fmt.Errorf("revision stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT rev_type, COUNT(*) FROM revisions GROUP BY rev_type`)
	if err != nil {
		return nil, fmt.Errorf("revision stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ByType[models.Type(t)] = n
	}
	return stats, rows.Err()
}

func (s *Store) countWhere(ctx context.Context, where string, args ...any) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM revisions WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count revisions: %w", err)
	}
	return n, nil
}

func (s *Store) queryRevisions(ctx context.Context, query string, args ...any) ([]*models.Revision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var out []*models.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRevision(row scanner) (*models.Revision, error) {
	var rev models.Revision
	var revType string
	var payload []byte
	err := row.Scan(
		&rev.ID,
		&rev.Timestamp,
		&rev.Username,
		&rev.IPAddress,
		&rev.UserAgent,
		&revType,
		&rev.EntityName,
		&rev.EntityID,
		&payload,
		&rev.Compressed,
		&rev.Reason,
	)
	if err != nil {
		return nil, err
	}
	rev.Type = models.Type(revType)
	rev.Changes, err = models.DecodeChanges(payload, rev.Compressed)
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w", rev.ID, err)
	}
	return &rev, nil
}
