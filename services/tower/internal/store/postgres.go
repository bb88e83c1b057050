package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres backs the tower with a pgx pool. The single-use confirm
// guarantee rides on a conditional UPDATE: only one caller observes the
// approved→confirmed transition.
type Postgres struct{ DB *pgxpool.Pool }

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{DB: db} }

// EnsureSchema creates the authorizations table when missing. Dev
// convenience; production schemas are migrated out of band.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS authorizations (
  authorization_id text PRIMARY KEY,
  agent_id         text NOT NULL,
  merchant         text NOT NULL,
  amount           double precision NOT NULL,
  category         text NOT NULL,
  intent           text NOT NULL,
  idempotency_key  text NOT NULL DEFAULT '',
  scoped_token     text NOT NULL DEFAULT '',
  status           text NOT NULL,
  created_at       timestamptz NOT NULL,
  expires_at       timestamptz NOT NULL,
  transaction_id   text NOT NULL DEFAULT '',
  final_amount     double precision NOT NULL DEFAULT 0,
  platform_fee     double precision NOT NULL DEFAULT 0,
  total_charged    double precision NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS authorizations_idem_idx
  ON authorizations (agent_id, idempotency_key, created_at DESC)`)
	return err
}

func (s *Postgres) CreateAuthorization(ctx context.Context, a *Authorization) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO authorizations
  (authorization_id, agent_id, merchant, amount, category, intent,
   idempotency_key, scoped_token, status, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.AgentID, a.Merchant, a.Amount, a.Category, a.Intent,
		a.IdempotencyKey, a.ScopedToken, string(a.Status), a.CreatedAt, a.ExpiresAt)
	return err
}

func (s *Postgres) GetAuthorization(ctx context.Context, id string) (*Authorization, error) {
	return s.scanOne(ctx, `SELECT `+authColumns+` FROM authorizations WHERE authorization_id=$1`, id)
}

func (s *Postgres) GetByIdempotencyKey(ctx context.Context, agentID, key string, notBefore time.Time) (*Authorization, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.scanOne(ctx, `
SELECT `+authColumns+` FROM authorizations
WHERE agent_id=$1 AND idempotency_key=$2 AND created_at >= $3
ORDER BY created_at DESC LIMIT 1`, agentID, key, notBefore)
}

func (s *Postgres) Confirm(ctx context.Context, id, transactionID string, finalAmount, platformFee, totalCharged float64, now time.Time) (*Authorization, error) {
	row := s.DB.QueryRow(ctx, `
UPDATE authorizations
SET status=$2, transaction_id=$3, final_amount=$4, platform_fee=$5, total_charged=$6
WHERE authorization_id=$1 AND status=$7 AND expires_at > $8
RETURNING `+authColumns,
		id, string(StatusConfirmed), transactionID, finalAmount, platformFee, totalCharged,
		string(StatusApproved), now)
	a, err := scanAuthorization(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// The conditional update missed: report why.
	a, err = s.GetAuthorization(ctx, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case StatusConfirmed:
		return a, ErrAlreadyConfirmed
	case StatusReleased:
		return a, ErrReleased
	default:
		if !now.Before(a.ExpiresAt) {
			_, _ = s.DB.Exec(ctx, `UPDATE authorizations SET status=$2 WHERE authorization_id=$1 AND status=$3`,
				id, string(StatusExpired), string(StatusApproved))
			return a, ErrExpired
		}
		return a, ErrExpired
	}
}

func (s *Postgres) Release(ctx context.Context, id string, now time.Time) (*Authorization, error) {
	row := s.DB.QueryRow(ctx, `
UPDATE authorizations SET status=$2
WHERE authorization_id=$1 AND status IN ($3, $4)
RETURNING `+authColumns,
		id, string(StatusReleased), string(StatusApproved), string(StatusExpired))
	a, err := scanAuthorization(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	a, err = s.GetAuthorization(ctx, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case StatusConfirmed:
		return a, ErrAlreadyConfirmed
	case StatusReleased:
		return a, ErrReleased
	default:
		return a, nil
	}
}

const authColumns = `authorization_id, agent_id, merchant, amount, category, intent,
idempotency_key, scoped_token, status, created_at, expires_at,
transaction_id, final_amount, platform_fee, total_charged`

func (s *Postgres) scanOne(ctx context.Context, sql string, args ...any) (*Authorization, error) {
	a, err := scanAuthorization(s.DB.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAuthorization(row pgx.Row) (*Authorization, error) {
	var a Authorization
	var status string
	err := row.Scan(&a.ID, &a.AgentID, &a.Merchant, &a.Amount, &a.Category, &a.Intent,
		&a.IdempotencyKey, &a.ScopedToken, &status, &a.CreatedAt, &a.ExpiresAt,
		&a.TransactionID, &a.FinalAmount, &a.PlatformFee, &a.TotalCharged)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}
