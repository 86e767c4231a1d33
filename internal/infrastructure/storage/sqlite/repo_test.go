package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"xhub/internal/domain/model"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "data", "creds.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestInsertAndFindByExchange(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed := []*model.AccountCredential{
		{Exchange: "binance", APIKey: "k1", EncryptedSecret: "iv:ct", IsDefaultAccount: true},
		{Exchange: "binance", APIKey: "k2", EncryptedSecret: "iv:ct", Kind: model.CredentialReadonly, OwnerID: "u1"},
		{Exchange: "bybit", APIKey: "k3", EncryptedSecret: "iv:ct"},
		{Exchange: "binance", APIKey: "k4", EncryptedSecret: "iv:ct", Removed: true},
	}
	for _, c := range seed {
		if err := repo.InsertCredential(ctx, c); err != nil {
			t.Fatalf("InsertCredential failed: %v", err)
		}
		if c.ID == 0 || c.CreatedAt == 0 {
			t.Fatalf("expected id and created_at to be filled: %+v", c)
		}
	}

	trading, err := repo.FindCredentialsByExchange(ctx, "binance")
	if err != nil {
		t.Fatalf("FindCredentialsByExchange failed: %v", err)
	}
	if len(trading) != 2 {
		t.Fatalf("expected 2 trading credentials, got %d", len(trading))
	}
	if trading[0].APIKey != "k1" || !trading[0].IsDefaultAccount || trading[0].Kind != model.CredentialTrading {
		t.Errorf("unexpected first credential %+v", trading[0])
	}
	if !trading[1].Removed {
		t.Error("removed flag should round trip")
	}

	readonly, err := repo.FindReadonlyCredentialsByExchange(ctx, "binance")
	if err != nil {
		t.Fatalf("FindReadonlyCredentialsByExchange failed: %v", err)
	}
	if len(readonly) != 1 || readonly[0].APIKey != "k2" {
		t.Errorf("unexpected readonly credentials %+v", readonly)
	}
}

func TestFindByOwner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_ = repo.InsertCredential(ctx, &model.AccountCredential{Exchange: "okx", APIKey: "a", EncryptedSecret: "x", OwnerID: "u1", Passphrase: "p"})
	_ = repo.InsertCredential(ctx, &model.AccountCredential{Exchange: "okx", APIKey: "b", EncryptedSecret: "x", OwnerID: "u2"})

	got, err := repo.FindCredentialsByOwner(ctx, "u1", "okx")
	if err != nil {
		t.Fatalf("FindCredentialsByOwner failed: %v", err)
	}
	if len(got) != 1 || got[0].APIKey != "a" || got[0].Passphrase != "p" {
		t.Errorf("unexpected result %+v", got)
	}

	none, err := repo.FindCredentialsByOwner(ctx, "u3", "okx")
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty result, got %v (%v)", none, err)
	}
}
