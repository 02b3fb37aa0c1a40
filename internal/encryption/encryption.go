// Package encryption protects the account snapshot at rest with age.
//
// Encryption needs only the public key, so every snapshot write works
// unattended. Decryption needs the private key, which may itself be sealed
// with a passphrase; Unlock opens it once at startup.
package encryption

import "io"

// Encryptor seals data for the configured key pair.
type Encryptor interface {
	// Setup performs one-time key generation. Called during
	// `shareit config init`. An empty passphrase stores the private key
	// unprotected (mode 0600) so the server can start without a prompt.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key and returns a Decryptor. The passphrase
	// is ignored when the key is not protected.
	Unlock(passphrase string) (Decryptor, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool

	// NeedsPassphrase reports whether the private key is passphrase protected.
	NeedsPassphrase() (bool, error)
}

// Decryptor holds an unlocked private key in memory.
type Decryptor interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
