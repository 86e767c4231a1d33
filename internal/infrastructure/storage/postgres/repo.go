package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xhub/internal/application/port"
	"xhub/internal/domain/model"
)

// Repo postgres 凭证仓储，结构与 sqlite 版一致
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS exchange_credentials (
  id BIGSERIAL PRIMARY KEY,
  exchange TEXT NOT NULL,
  api_key TEXT NOT NULL,
  encrypted_secret TEXT NOT NULL,
  api_passphrase TEXT NOT NULL DEFAULT '',
  owner_id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL DEFAULT 'trading',
  is_default_account BOOLEAN NOT NULL DEFAULT FALSE,
  removed BOOLEAN NOT NULL DEFAULT FALSE,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cred_exchange ON exchange_credentials(exchange, kind);
CREATE INDEX IF NOT EXISTS idx_cred_owner ON exchange_credentials(owner_id, exchange);
`)
	return err
}

const selectColumns = `SELECT id, exchange, api_key, encrypted_secret, api_passphrase, owner_id, kind, is_default_account, removed, created_at FROM exchange_credentials`

func (r *Repo) FindCredentialsByExchange(ctx context.Context, exchange string) ([]model.AccountCredential, error) {
	return r.query(ctx, selectColumns+` WHERE exchange=$1 AND kind=$2 ORDER BY id`, exchange, string(model.CredentialTrading))
}

func (r *Repo) FindReadonlyCredentialsByExchange(ctx context.Context, exchange string) ([]model.AccountCredential, error) {
	return r.query(ctx, selectColumns+` WHERE exchange=$1 AND kind=$2 ORDER BY id`, exchange, string(model.CredentialReadonly))
}

func (r *Repo) FindCredentialsByOwner(ctx context.Context, ownerID, exchange string) ([]model.AccountCredential, error) {
	return r.query(ctx, selectColumns+` WHERE owner_id=$1 AND exchange=$2 ORDER BY id`, ownerID, exchange)
}

func (r *Repo) InsertCredential(ctx context.Context, c *model.AccountCredential) error {
	if c.Kind == "" {
		c.Kind = model.CredentialTrading
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO exchange_credentials(exchange, api_key, encrypted_secret, api_passphrase, owner_id, kind, is_default_account, removed, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, c.Exchange, c.APIKey, c.EncryptedSecret, c.Passphrase, c.OwnerID, string(c.Kind), c.IsDefaultAccount, c.Removed, c.CreatedAt).Scan(&c.ID)
}

func (r *Repo) query(ctx context.Context, q string, args ...any) ([]model.AccountCredential, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AccountCredential
	for rows.Next() {
		var c model.AccountCredential
		var kind string
		if err := rows.Scan(&c.ID, &c.Exchange, &c.APIKey, &c.EncryptedSecret, &c.Passphrase, &c.OwnerID,
			&kind, &c.IsDefaultAccount, &c.Removed, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Kind = model.CredentialKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ port.CredentialStore = (*Repo)(nil)
