package data

import (
	"encoding/base64"
	"fmt"

	"GuardLane/internal/conf"
	"GuardLane/pkg/crypto"

	"github.com/go-kratos/kratos/v2/log"
)

// PayloadCipher encrypts dead-letter payloads at rest. Payloads carry
// arbitrary agent output and may include prompts or credentials, so they
// are sealed before hitting the database. With no key configured the
// cipher passes payloads through unchanged.
type PayloadCipher struct {
	aes *crypto.AESCrypto
}

// NewPayloadCipher creates the cipher from the configured base64 key.
func NewPayloadCipher(c *conf.Security, logger log.Logger) (*PayloadCipher, error) {
	helper := log.NewHelper(logger)

	if c == nil || c.EncryptionKey == "" {
		helper.Warn("no encryption key configured, dead letter payloads stored in plaintext")
		return &PayloadCipher{}, nil
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}

	aes, err := crypto.NewAESCrypto(key)
	if err != nil {
		return nil, err
	}

	helper.Info("dead letter payload encryption enabled")
	return &PayloadCipher{aes: aes}, nil
}

// Enabled reports whether payloads are actually encrypted.
func (p *PayloadCipher) Enabled() bool {
	return p.aes != nil
}

// Seal encrypts a payload for storage.
func (p *PayloadCipher) Seal(payload []byte) ([]byte, error) {
	if p.aes == nil {
		return payload, nil
	}
	return p.aes.Encrypt(payload)
}

// Open decrypts a stored payload.
func (p *PayloadCipher) Open(payload []byte) ([]byte, error) {
	if p.aes == nil {
		return payload, nil
	}
	return p.aes.Decrypt(payload)
}
