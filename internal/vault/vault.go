package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/sendora/internal/config"
	"go.uber.org/fx"
)

const keySize = 32

var (
	ErrInvalidKeySize = errors.New("invalid_encryption_key_size")
	ErrMalformedToken = errors.New("malformed_credential_token")
	ErrInvalidPadding = errors.New("invalid_credential_padding")
)

// Vault encrypts tenant send credentials with AES-256-CBC. Tokens are
// stored as "<ivHex>:<cipherHex>" so each row carries its own IV.
type Vault struct {
	block cipher.Block
}

// New builds a Vault. The key must be exactly 32 bytes; anything else is
// a deployment mistake and refuses to start.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeySize, len(key), keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Vault{block: block}, nil
}

// NewFromConfig builds the Vault from CREDENTIAL_ENCRYPTION_KEY.
func NewFromConfig(cfg config.Config) (*Vault, error) {
	return New([]byte(cfg.CredentialKey))
}

// Encrypt seals plaintext under a fresh random IV.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	padded := pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(v.block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a token produced by Encrypt. The token splits on the
// first colon; hex payloads beyond it belong to the ciphertext.
func (v *Vault) Decrypt(token string) (string, error) {
	ivHex, cipherHex, ok := strings.Cut(token, ":")
	if !ok {
		return "", ErrMalformedToken
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformedToken
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrMalformedToken
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(v.block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := unpad(plaintext)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}

var Module = fx.Module("vault",
	fx.Provide(NewFromConfig),
)
