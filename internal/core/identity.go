package core

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/keyring"
)

// IdentityEnv names the environment variable holding the identity secret.
const IdentityEnv = "ENVSYNC_IDENTITY"

// ErrNoIdentity is returned when no identity secret is configured.
var ErrNoIdentity = errors.New("no identity secret: set " + IdentityEnv + " or run 'envsync identity set'")

// ReadSecret reads a secret from the terminal without echoing
func ReadSecret(prompt string) ([]byte, error) {
	fmt.Print(prompt)

	// Read secret without echo
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // New line after secret

	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	return secret, nil
}

// ReadSecretConfirm reads a secret twice and ensures they match
func ReadSecretConfirm() ([]byte, error) {
	secret1, err := ReadSecret("Enter identity secret: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(secret1)

	secret2, err := ReadSecret("Confirm identity secret: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(secret2)

	if !crypto.ConstantTimeCompare(secret1, secret2) {
		return nil, fmt.Errorf("secrets do not match")
	}
	if len(secret1) == 0 {
		return nil, fmt.Errorf("secret is empty")
	}

	// Return a copy of the secret
	result := make([]byte, len(secret1))
	copy(result, secret1)
	return result, nil
}

// SecretFromEnv reads the identity secret from ENVSYNC_IDENTITY
func SecretFromEnv() []byte {
	secret := os.Getenv(IdentityEnv)
	if secret == "" {
		return nil
	}
	// Return a copy to avoid issues when clearing the bytes
	result := make([]byte, len(secret))
	copy(result, []byte(secret))
	return result
}

// LoadIdentity returns the identity secret of authorID, from the
// environment first and the OS keyring second.
func LoadIdentity(authorID string) ([]byte, error) {
	if secret := SecretFromEnv(); secret != nil {
		return secret, nil
	}

	secret, err := keyring.GetIdentity(authorID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	return []byte(secret), nil
}
