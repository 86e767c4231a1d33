package model

import "strconv"

// CredentialKind 凭证类型
type CredentialKind string

const (
	CredentialTrading  CredentialKind = "trading"
	CredentialReadonly CredentialKind = "readonly"
)

// AccountCredential 持久化的交易所凭证，Secret 始终是密文
type AccountCredential struct {
	ID               int64          `json:"id"`
	Exchange         string         `json:"exchange"`
	APIKey           string         `json:"api_key"`
	EncryptedSecret  string         `json:"-"`
	Passphrase       string         `json:"-"`
	OwnerID          string         `json:"owner_id,omitempty"` // 空表示共享/只读 key
	Kind             CredentialKind `json:"kind"`
	IsDefaultAccount bool           `json:"is_default_account"`
	Removed          bool           `json:"removed"`
	CreatedAt        int64          `json:"created_at"`
}

// APIKey 解密后的 key/secret，只在单次请求内存活
type APIKey struct {
	Exchange         string `json:"exchange"`
	Key              string `json:"key"`
	Secret           string `json:"secret"`
	Passphrase       string `json:"passphrase,omitempty"`
	IsDefaultAccount bool   `json:"is_default_account"`
}

// PoolIdentifier 账户池标识: "<exchange>-<isDefaultAccount>"，例: binance-true
func PoolIdentifier(exchange string, isDefault bool) string {
	return exchange + "-" + strconv.FormatBool(isDefault)
}
