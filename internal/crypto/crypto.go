package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"

	"github.com/illarion/envsync/internal/envmap"
	errs "github.com/illarion/envsync/internal/errors"
)

const (
	KeySize   = 32 // AES-256 key size
	NonceSize = 12 // GCM nonce size
	TagSize   = 16 // GCM authentication tag size

	hkdfInfo = "envsync envelope v1"
)

// Blob is the at-rest form of a config map.
type Blob struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
}

// Clone returns a deep copy of b.
func (b *Blob) Clone() *Blob {
	if b == nil {
		return nil
	}
	return &Blob{
		IV:         append([]byte(nil), b.IV...),
		Ciphertext: append([]byte(nil), b.Ciphertext...),
		AuthTag:    append([]byte(nil), b.AuthTag...),
	}
}

// DeriveKey hashes an identity secret into a cipher key.
func DeriveKey(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

// DeriveProjectKey derives a key unique to projectID from an identity secret.
func DeriveProjectKey(secret []byte, projectID string) ([]byte, error) {
	ikm := DeriveKey(secret)
	defer ClearBytes(ikm)

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, ikm, []byte(projectID), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive project key: %w", err)
	}
	return key, nil
}

// Cipher provides authenticated encryption of config maps
type Cipher struct {
	key  []byte
	aead cipher.AEAD
}

// NewCipher creates a cipher for a 32-byte key. The key is copied.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size %d", len(key))
	}
	k := append([]byte(nil), key...)

	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{key: k, aead: gcm}, nil
}

// Seal encrypts m under a fresh random IV. aad is authenticated but not
// encrypted.
func (c *Cipher) Seal(m envmap.Map, aad []byte) (*Blob, error) {
	plaintext, err := envmap.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize map: %w", err)
	}
	defer ClearBytes(plaintext)

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize

	return &Blob{
		IV:         nonce,
		Ciphertext: sealed[:split:split],
		AuthTag:    sealed[split:],
	}, nil
}

// Open verifies and decrypts b. Verification failures return ErrIntegrity and
// undecodable plaintext returns ErrMalformedPayload.
func (c *Cipher) Open(b *Blob, aad []byte) (envmap.Map, error) {
	if b == nil || len(b.IV) != NonceSize || len(b.AuthTag) != TagSize {
		return nil, errs.ErrIntegrity
	}

	sealed := make([]byte, 0, len(b.Ciphertext)+TagSize)
	sealed = append(sealed, b.Ciphertext...)
	sealed = append(sealed, b.AuthTag...)

	plaintext, err := c.aead.Open(nil, b.IV, sealed, aad)
	if err != nil {
		return nil, errs.ErrIntegrity
	}
	defer ClearBytes(plaintext)

	return envmap.Unmarshal(plaintext)
}

// Fingerprint returns a keyed BLAKE3 digest of the canonical form of m. Equal
// maps under the same key have equal fingerprints.
func (c *Cipher) Fingerprint(m envmap.Map) (string, error) {
	data, err := envmap.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize map: %w", err)
	}
	defer ClearBytes(data)

	h := blake3.New(32, c.key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Destroy clears the cipher's key from memory
func (c *Cipher) Destroy() {
	ClearBytes(c.key)
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
