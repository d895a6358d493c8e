package crypto

import (
	"fmt"
)

// KeyMode selects how project keys are derived.
type KeyMode string

const (
	// KeyModeShared uses one key for every project of an identity.
	KeyModeShared KeyMode = "shared"
	// KeyModeProject salts the key with the project id.
	KeyModeProject KeyMode = "project"
)

// ParseKeyMode validates a key derivation mode name.
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(s) {
	case KeyModeShared, KeyModeProject:
		return KeyMode(s), nil
	case "":
		return KeyModeProject, nil
	}
	return "", fmt.Errorf("unknown key derivation mode %q", s)
}

// KeyChain holds an identity secret in memory and hands out project ciphers.
// The secret is never persisted.
type KeyChain struct {
	secret []byte
	mode   KeyMode
}

// NewKeyChain copies secret into a new key chain.
func NewKeyChain(secret []byte, mode KeyMode) (*KeyChain, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("identity secret is empty")
	}
	mode, err := ParseKeyMode(string(mode))
	if err != nil {
		return nil, err
	}
	return &KeyChain{
		secret: append([]byte(nil), secret...),
		mode:   mode,
	}, nil
}

// Cipher returns a cipher for projectID. The caller should Destroy it.
func (k *KeyChain) Cipher(projectID string) (*Cipher, error) {
	if k == nil {
		return nil, fmt.Errorf("no identity secret loaded")
	}
	var key []byte
	switch k.mode {
	case KeyModeShared:
		key = DeriveKey(k.secret)
	default:
		var err error
		key, err = DeriveProjectKey(k.secret, projectID)
		if err != nil {
			return nil, err
		}
	}
	defer ClearBytes(key)

	return NewCipher(key)
}

// Mode returns the derivation mode.
func (k *KeyChain) Mode() KeyMode {
	return k.mode
}

// Destroy clears the identity secret from memory
func (k *KeyChain) Destroy() {
	ClearBytes(k.secret)
}
