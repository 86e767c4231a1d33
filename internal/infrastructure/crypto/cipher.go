package crypto

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
)

const keySize = 32 // AES-256

// 测试可替换
var randRead = rand.Read

// Cipher 凭证加解密: AES-256-CBC + 随机 IV，输出 hex(iv):hex(ciphertext)
//
// 密钥不由外部提供，首次使用时生成并放入 KeySlot。
// 内存槽在进程重启后丢失，此前加密的 secret 将无法解密。
type Cipher struct {
	slot port.KeySlot
	mu   sync.Mutex
}

var _ port.SecretCipher = (*Cipher)(nil)

// NewCipher 创建 Cipher，slot 为 nil 时使用进程内存槽
func NewCipher(slot port.KeySlot) *Cipher {
	if slot == nil {
		slot = NewMemoryKeySlot()
	}
	return &Cipher{slot: slot}
}

func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := c.key(ctx)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := randRead(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	data := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

func (c *Cipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	ivHex, dataHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", apperr.CipherFormat("missing iv separator")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", apperr.CipherFormat("invalid iv")
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", apperr.CipherFormat("invalid ciphertext length")
	}

	key, err := c.key(ctx)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// key 读取缓存槽，未命中时生成新密钥
func (c *Cipher) key(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok, err := c.slot.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read key slot: %w", err)
	}
	if ok && len(key) == keySize {
		return key, nil
	}

	fresh := make([]byte, keySize)
	if _, err := randRead(fresh); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	key, err = c.slot.SetIfAbsent(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("write key slot: %w", err)
	}
	log.Warn().Msg("cipher key generated; secrets encrypted before this point are unreadable if the slot was reset")
	return key, nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, apperr.CipherFormat("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, apperr.CipherFormat("bad padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, apperr.CipherFormat("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
