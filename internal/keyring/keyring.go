// Package keyring stores identity secrets in the OS keyring.
package keyring

import (
	"github.com/zalando/go-keyring"
)

const serviceName = "envsync"

// ErrNotFound is returned when no secret is stored for an account.
var ErrNotFound = keyring.ErrNotFound

// SaveIdentity stores the identity secret of an author in the OS keyring
func SaveIdentity(authorID string, secret string) error {
	return keyring.Set(serviceName, authorID, secret)
}

// GetIdentity retrieves an identity secret from the OS keyring
func GetIdentity(authorID string) (string, error) {
	return keyring.Get(serviceName, authorID)
}

// DeleteIdentity removes an identity secret from the OS keyring
func DeleteIdentity(authorID string) error {
	return keyring.Delete(serviceName, authorID)
}

// HasIdentity checks if an identity secret is stored in the keyring
func HasIdentity(authorID string) bool {
	_, err := keyring.Get(serviceName, authorID)
	return err == nil
}
