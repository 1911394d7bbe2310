package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"golang.org/x/crypto/argon2"
)

const payloadVersion = 1

var keySalt = []byte("leadforge.byok.credentials.v1")

var ErrMalformedPayload = errors.New("malformed_credential_payload")

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Sealer encrypts provider keys at rest with AES-256-GCM.
type Sealer struct {
	key []byte
}

// New derives the sealing key from secret. An empty secret yields a sealer
// that refuses to seal or open anything.
func New(secret string) *Sealer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Sealer{}
	}
	return &Sealer{key: argon2.IDKey([]byte(secret), keySalt, 1, 64*1024, 4, 32)}
}

func (s *Sealer) Configured() bool {
	return s != nil && len(s.key) > 0
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Configured() {
		return "", byokdomain.ErrEncryptionKeyMissing
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	out, err := json.Marshal(encryptedPayload{
		Version:    payloadVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	if !s.Configured() {
		return "", byokdomain.ErrEncryptionKeyMissing
	}

	var payload encryptedPayload
	if err := json.Unmarshal([]byte(sealed), &payload); err != nil {
		return "", ErrMalformedPayload
	}
	if payload.Version != payloadVersion {
		return "", ErrMalformedPayload
	}
	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", ErrMalformedPayload
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", ErrMalformedPayload
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrMalformedPayload
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Mask keeps the first and last four characters of a key.
func Mask(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", 8) + key[len(key)-4:]
}
