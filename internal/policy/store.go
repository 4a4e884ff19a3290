package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrInvalidPolicy = errors.New("invalid family policy")

// Store keeps per-family scoring policies and the promotion audit trail.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS family_policies (
  family TEXT PRIMARY KEY,
  threshold REAL NOT NULL DEFAULT 0,
  legacy_disabled INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS promotions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  family TEXT NOT NULL,
  from_version TEXT NOT NULL DEFAULT '',
  to_version TEXT NOT NULL,
  promoted_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS promotions_family ON promotions(family, id);
`)
	return err
}

func (s *Store) UpsertPolicy(ctx context.Context, p FamilyPolicy) error {
	if s.db == nil {
		return nil
	}
	if p.Family == "" {
		return fmt.Errorf("%w: family is required", ErrInvalidPolicy)
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v out of range [0,1]", ErrInvalidPolicy, p.Threshold)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO family_policies(family, threshold, legacy_disabled, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(family) DO UPDATE SET
  threshold=excluded.threshold,
  legacy_disabled=excluded.legacy_disabled,
  updated_at=excluded.updated_at;
`, p.Family, p.Threshold, boolToInt(p.LegacyDisabled), p.UpdatedAt.UTC())
	return err
}

func (s *Store) GetPolicy(ctx context.Context, family string) (FamilyPolicy, bool, error) {
	if s.db == nil {
		return FamilyPolicy{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `
SELECT family, threshold, legacy_disabled, updated_at
FROM family_policies WHERE family=?;
`, family)

	var p FamilyPolicy
	var disabled int
	err := row.Scan(&p.Family, &p.Threshold, &disabled, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return FamilyPolicy{}, false, nil
	}
	if err != nil {
		return FamilyPolicy{}, false, err
	}
	p.LegacyDisabled = disabled != 0
	return p, true, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]FamilyPolicy, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT family, threshold, legacy_disabled, updated_at
FROM family_policies
ORDER BY family ASC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FamilyPolicy
	for rows.Next() {
		var p FamilyPolicy
		var disabled int
		if err := rows.Scan(&p.Family, &p.Threshold, &disabled, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.LegacyDisabled = disabled != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePolicy(ctx context.Context, family string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM family_policies WHERE family=?;", family)
	return err
}

// RecordPromotion appends to the audit trail. It satisfies registry.PromotionRecorder.
func (s *Store) RecordPromotion(ctx context.Context, family, from, to string, at time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO promotions(family, from_version, to_version, promoted_at)
VALUES(?, ?, ?, ?);
`, family, from, to, at.UTC())
	return err
}

// ListPromotions returns the family's promotions, newest first. limit <= 0 means all.
func (s *Store) ListPromotions(ctx context.Context, family string, limit int) ([]Promotion, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT family, from_version, to_version, promoted_at
FROM promotions WHERE family=?
ORDER BY id DESC
LIMIT ?;
`, family, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Promotion
	for rows.Next() {
		var p Promotion
		if err := rows.Scan(&p.Family, &p.From, &p.To, &p.PromotedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
