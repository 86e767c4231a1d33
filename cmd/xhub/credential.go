package main

import (
	"context"
	"errors"
	"flag"
	"strings"

	"github.com/rs/zerolog/log"

	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/container"
)

// runCredential 加密 secret 并写入凭证表
// 用法: xhub credential add -exchange okx -key K -secret S [-passphrase P] [-owner U] [-default] [-readonly]
func runCredential(c *container.Container, args []string) error {
	if len(args) == 0 || args[0] != "add" {
		return errors.New("usage: credential add -exchange NAME -key KEY -secret SECRET")
	}

	fs := flag.NewFlagSet("credential add", flag.ContinueOnError)
	exchange := fs.String("exchange", "", "exchange name")
	key := fs.String("key", "", "api key")
	secret := fs.String("secret", "", "api secret")
	passphrase := fs.String("passphrase", "", "api passphrase (okx, bitget)")
	owner := fs.String("owner", "", "owner id")
	isDefault := fs.Bool("default", false, "mark as default account")
	readonly := fs.Bool("readonly", false, "store as read-only key")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *exchange == "" || *key == "" || *secret == "" {
		return errors.New("exchange, key and secret are required")
	}

	if c.Config().Cipher.KeySlot == "memory" {
		log.Warn().Msg("cipher key slot is memory: the stored secret cannot be decrypted by another process")
	}

	ctx := context.Background()
	enc, err := c.Cipher().Encrypt(ctx, *secret)
	if err != nil {
		return err
	}

	cred := &model.AccountCredential{
		Exchange:         strings.ToLower(*exchange),
		APIKey:           *key,
		EncryptedSecret:  enc,
		Passphrase:       *passphrase,
		OwnerID:          *owner,
		IsDefaultAccount: *isDefault,
	}
	if *readonly {
		cred.Kind = model.CredentialReadonly
	}
	if err := c.Store().InsertCredential(ctx, cred); err != nil {
		return err
	}

	log.Info().
		Int64("id", cred.ID).
		Str("exchange", cred.Exchange).
		Bool("default", cred.IsDefaultAccount).
		Msg("credential stored")
	return nil
}
