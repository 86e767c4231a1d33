package port

import (
	"context"

	"xhub/internal/domain/model"
)

// CredentialStore 凭证仓储（只读契约 + 测试/初始化用写入）
type CredentialStore interface {
	FindCredentialsByExchange(ctx context.Context, exchange string) ([]model.AccountCredential, error)
	FindReadonlyCredentialsByExchange(ctx context.Context, exchange string) ([]model.AccountCredential, error)
	FindCredentialsByOwner(ctx context.Context, ownerID, exchange string) ([]model.AccountCredential, error)
	InsertCredential(ctx context.Context, c *model.AccountCredential) error
	Close() error
}

// SecretCipher 凭证加解密
type SecretCipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KeySlot 加密密钥缓存槽，Get 未命中返回 ok=false
type KeySlot interface {
	Get(ctx context.Context) (key []byte, ok bool, err error)
	// SetIfAbsent 写入 key；已存在时返回已有值
	SetIfAbsent(ctx context.Context, key []byte) ([]byte, error)
	Clear(ctx context.Context) error
}
