package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"xhub/internal/application/port"
	"xhub/internal/domain/model"
)

// Repo sqlite 凭证仓储
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exchange TEXT NOT NULL,
  api_key TEXT NOT NULL,
  encrypted_secret TEXT NOT NULL,
  api_passphrase TEXT NOT NULL DEFAULT '',
  owner_id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL DEFAULT 'trading',
  is_default_account INTEGER NOT NULL DEFAULT 0,
  removed INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cred_exchange ON exchange_credentials(exchange, kind);
CREATE INDEX IF NOT EXISTS idx_cred_owner ON exchange_credentials(owner_id, exchange);
`)
	return err
}

const selectColumns = `SELECT id, exchange, api_key, encrypted_secret, api_passphrase, owner_id, kind, is_default_account, removed, created_at FROM exchange_credentials`

func (r *Repo) FindCredentialsByExchange(ctx context.Context, exchange string) ([]model.AccountCredential, error) {
	return r.query(ctx, selectColumns+` WHERE exchange=? AND kind=? ORDER BY id`, exchange, string(model.CredentialTrading))
}

func (r *Repo) FindReadonlyCredentialsByExchange(ctx context.Context, exchange string) ([]model.AccountCredential, error) {
	return r.query(ctx, selectColumns+` WHERE exchange=? AND kind=? ORDER BY id`, exchange, string(model.CredentialReadonly))
}

func (r *Repo) FindCredentialsByOwner(ctx context.Context, ownerID, exchange string) ([]model.AccountCredential, error) {
	return r.query(ctx, selectColumns+` WHERE owner_id=? AND exchange=? ORDER BY id`, ownerID, exchange)
}

// InsertCredential 写入一条凭证，回填 ID 与 CreatedAt
func (r *Repo) InsertCredential(ctx context.Context, c *model.AccountCredential) error {
	if c.Kind == "" {
		c.Kind = model.CredentialTrading
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_credentials(exchange, api_key, encrypted_secret, api_passphrase, owner_id, kind, is_default_account, removed, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Exchange, c.APIKey, c.EncryptedSecret, c.Passphrase, c.OwnerID, string(c.Kind), c.IsDefaultAccount, c.Removed, c.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
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
