package banking

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts banking fields at rest with XChaCha20-Poly1305. Each
// record stores a hash of the sealing key so a rotated key is detected
// before a doomed decrypt.
type Sealer struct {
	key     []byte
	keyHash string
}

func NewSealer(keyHex string) (*Sealer, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("banking key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("banking key must be 32 bytes")
	}
	sum := sha256.Sum256(key)
	return &Sealer{key: key, keyHash: hex.EncodeToString(sum[:8])}, nil
}

// KeyHash identifies the sealing key; stored per record.
func (s *Sealer) KeyHash() string { return s.keyHash }

func (s *Sealer) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open banking field: %w", err)
	}
	return string(pt), nil
}
