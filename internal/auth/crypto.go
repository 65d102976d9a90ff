package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned when sealed credentials cannot be opened
var ErrDecrypt = errors.New("failed to decrypt credentials")

// MinSecretKeyLength is the shortest master key accepted
const MinSecretKeyLength = 32

// Sealer encrypts credential records with a key derived per user from a
// master secret, so one user's blob cannot be replayed under another id.
type Sealer struct {
	master []byte
}

// NewSealer creates a sealer from the master secret
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) < MinSecretKeyLength {
		return nil, fmt.Errorf("secret key must be at least %d bytes, got %d", MinSecretKeyLength, len(master))
	}
	key := make([]byte, len(master))
	copy(key, master)
	return &Sealer{master: key}, nil
}

func (s *Sealer) userKey(userID string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, s.master, nil, []byte("hnsync credentials "+userID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext for userID and returns base64 text
func (s *Sealer) Seal(userID string, plaintext []byte) (string, error) {
	key, err := s.userKey(userID)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(userID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts text produced by Seal for the same userID
func (s *Sealer) Open(userID, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	key, err := s.userKey(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}
