package snap

import "io"

// Encryptor encrypts offline archives.
// Encryption uses the public key only. Decryption requires a passphrase to
// unlock the private key, producing a DecryptionContext.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext, and
	// encrypts the private key with the provided passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the encryptor can encrypt right now.
	IsConfigured() bool

	// Extension is appended to archive keys, e.g. ".age".
	Extension() string
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
