// Package crypto provides the envelope cipher for envsync config maps.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the identity secret
//   - 12-byte random IV generated inside Seal for every call
//   - 16-byte authentication tag bound to the ciphertext and associated data
//
// Key derivation has two modes:
//   - shared: SHA-256 of the identity secret, one key for every project
//   - project: HKDF-SHA256 over that digest salted with the project id
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call KeyChain.Destroy() and Cipher.Destroy() when done
package crypto
