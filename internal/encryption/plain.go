package encryption

import (
	"fmt"
	"io"

	"snapback/internal/snap"
)

// PlainEncryptor passes archives through unchanged. It backs
// `[encryption] type = "none"`.
type PlainEncryptor struct{}

var _ snap.Encryptor = (*PlainEncryptor)(nil)

// NewPlainEncryptor creates a new PlainEncryptor.
func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{}
}

// Setup has no keys to generate.
func (e *PlainEncryptor) Setup(passphrase string) error {
	return nil
}

func (e *PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *PlainEncryptor) Unlock(passphrase string) (snap.DecryptionContext, error) {
	return &PlainDecryptionContext{}, nil
}

func (e *PlainEncryptor) IsConfigured() bool {
	return true
}

func (e *PlainEncryptor) Extension() string {
	return ""
}

// PlainDecryptionContext copies data unchanged.
type PlainDecryptionContext struct{}

var _ snap.DecryptionContext = (*PlainDecryptionContext)(nil)

func (c *PlainDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
