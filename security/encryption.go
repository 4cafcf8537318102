package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/giantswarm/guard/instrumentation"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32

	// KeyDerivationIterations is the PBKDF2-SHA256 work factor for DeriveKey and HashSecret
	KeyDerivationIterations = 100000

	// DefaultKeySalt salts DeriveKey when the caller has no deployment specific salt
	DefaultKeySalt = "guard-audit-at-rest"

	hashSaltSize = 32
)

// ErrEmptySecret is returned when deriving a key from an empty secret.
var ErrEmptySecret = errors.New("secret must not be empty")

// Encryptor handles encryption at rest using AES-256-GCM.
// A disabled Encryptor passes values through unchanged.
type Encryptor struct {
	key            []byte
	enabled        bool
	associatedData []byte
	metrics        *instrumentation.Metrics
}

// NewEncryptor creates a new encryptor.
// If key is nil or empty, encryption is disabled.
// The key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{enabled: false}, nil
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", KeySize, len(key))
	}

	return &Encryptor{
		key:     key,
		enabled: true,
	}, nil
}

// NewEncryptorFromSecret derives the AES key from secret with DeriveKey.
// An empty secret yields a disabled encryptor.
func NewEncryptorFromSecret(secret, salt string) (*Encryptor, error) {
	if secret == "" {
		return NewEncryptor(nil)
	}
	if salt == "" {
		salt = DefaultKeySalt
	}
	key, err := DeriveKey(secret, []byte(salt))
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}

// WithAssociatedData binds ciphertexts to ad (e.g. the service name); decryption
// with different associated data fails.
func (e *Encryptor) WithAssociatedData(ad string) *Encryptor {
	e.associatedData = []byte(ad)
	return e
}

// SetInstrumentation enables encryption metrics.
func (e *Encryptor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		e.metrics = inst.Metrics()
	}
}

func (e *Encryptor) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns base64 of [nonce][ciphertext+tag].
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if !e.enabled {
		return plaintext, nil
	}
	start := time.Now()

	gcm, err := e.newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), e.associatedData)

	e.metrics.RecordEncryptionOperation(context.Background(), "encrypt", elapsedMs(start))
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext using AES-256-GCM.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	if !e.enabled {
		return encoded, nil
	}
	start := time.Now()

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := e.newGCM()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, e.associatedData)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	e.metrics.RecordEncryptionOperation(context.Background(), "decrypt", elapsedMs(start))
	return string(plaintext), nil
}

// IsEnabled returns true if encryption is enabled
func (e *Encryptor) IsEnabled() bool {
	return e != nil && e.enabled
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// DeriveKey stretches secret into a 32-byte AES key with PBKDF2-SHA256.
// The same secret and salt always produce the same key.
func DeriveKey(secret string, salt []byte) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return pbkdf2.Key([]byte(secret), salt, KeyDerivationIterations, KeySize, sha256.New), nil
}

// HashSecret returns base64 PBKDF2-SHA256 hash and salt for secret.
// A nil salt generates a random one.
func HashSecret(secret string, salt []byte) (hash, encodedSalt string, err error) {
	if salt == nil {
		salt = make([]byte, hashSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return "", "", fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	sum := pbkdf2.Key([]byte(secret), salt, KeyDerivationIterations, KeySize, sha256.New)
	return base64.StdEncoding.EncodeToString(sum), base64.StdEncoding.EncodeToString(salt), nil
}

// VerifySecret reports whether secret matches a hash produced by HashSecret.
// The comparison runs in constant time.
func VerifySecret(secret, hash, encodedSalt string) bool {
	salt, err := base64.StdEncoding.DecodeString(encodedSalt)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(secret), salt, KeyDerivationIterations, KeySize, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// GenerateKey generates a new 32-byte encryption key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
