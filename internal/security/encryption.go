package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32 // AES-256
	saltSize   = 32
	pbkdf2Iter = 100000

	// SecretPrefix marks a config value as SecretBox ciphertext.
	SecretPrefix = "enc:"
)

// SecretBox encrypts API keys stored in the settings file.
// The AES key is derived from a per-install salt file and the machine identity.
type SecretBox struct {
	keyPath string
}

// NewSecretBox creates a SecretBox whose salt lives in dataDir
func NewSecretBox(dataDir string) *SecretBox {
	return &SecretBox{
		keyPath: filepath.Join(dataDir, ".key"),
	}
}

// IsSealed reports whether value carries the SecretPrefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// Seal encrypts a secret and returns it in "enc:<base64>" form
func (sb *SecretBox) Seal(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}

	key, err := sb.getOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("failed to get encryption key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return SecretPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open returns the plaintext of a sealed value. Values without the prefix are returned unchanged.
func (sb *SecretBox) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}

	key, err := sb.loadKey()
	if err != nil {
		return "", fmt.Errorf("failed to load encryption key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (sb *SecretBox) getOrCreateKey() ([]byte, error) {
	key, err := sb.loadKey()
	if err == nil {
		return key, nil
	}
	return sb.generateAndSaveKey()
}

func (sb *SecretBox) loadKey() ([]byte, error) {
	data, err := os.ReadFile(sb.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}

	if len(salt) < saltSize {
		return nil, fmt.Errorf("invalid key file format")
	}

	return pbkdf2.Key([]byte(machineID()), salt[:saltSize], pbkdf2Iter, keySize, sha256.New), nil
}

func (sb *SecretBox) generateAndSaveKey() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iter, keySize, sha256.New)

	if err := os.MkdirAll(filepath.Dir(sb.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	if err := os.WriteFile(sb.keyPath, []byte(base64.StdEncoding.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	return key, nil
}

// machineID returns a machine-specific identifier used as the PBKDF2 password
func machineID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "default-machine"
	}

	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "default-user"
	}

	return hostname + ":" + username
}

// DeleteKey removes the salt file, invalidating every sealed value
func (sb *SecretBox) DeleteKey() error {
	if err := os.Remove(sb.keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key file: %w", err)
	}
	return nil
}
