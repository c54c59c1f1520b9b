package utils

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Префикс зашифрованного значения; значения без него считаются открытым текстом
const sealedPrefix = "enc:v1:"

// ErrInvalidCiphertext возвращается при повреждённом или чужом шифротексте
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// ContactCipher шифрует контактные данные контрагентов (XChaCha20-Poly1305).
// Нулевой указатель допустим и ничего не шифрует.
type ContactCipher struct {
	aead cipher.AEAD
}

// NewContactCipher создает шифратор из hex-ключа длиной 32 байта.
// Пустой ключ - шифрование выключено, возвращается nil.
func NewContactCipher(hexKey string) (*ContactCipher, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode contact key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("contact key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &ContactCipher{aead: aead}, nil
}

// Encrypt шифрует строку. Пустая строка остается пустой.
func (c *ContactCipher) Encrypt(plain string) (string, error) {
	if c == nil || plain == "" {
		return plain, nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает строку, зашифрованную Encrypt
func (c *ContactCipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if c == nil {
		return "", fmt.Errorf("%w: no key configured", ErrInvalidCiphertext)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plain), nil
}
