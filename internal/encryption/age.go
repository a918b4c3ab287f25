package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"

	"snapback/internal/config"
	"snapback/internal/snap"
)

// Extension is appended to the keys of age-encrypted archives.
const Extension = ".age"

// AgeEncryptor encrypts offline archives to an X25519 recipient. The public
// key file holds the recipient in plaintext so exports never need the
// passphrase; the private key file is an armored age file encrypted with
// the passphrase (scrypt) and is only read to restore.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string

	mu        sync.Mutex
	recipient age.Recipient
}

var _ snap.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates a new AgeEncryptor from configuration.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates the key pair. Either key file already existing is an
// error. The private key is written first so a failure part way leaves
// IsConfigured false.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if fileExists(e.publicKeyPath) || fileExists(e.privateKeyPath) {
		return fmt.Errorf("keys already exist at %s", e.publicKeyPath)
	}
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	sealed, err := sealIdentity(identity, passphrase)
	if err != nil {
		return err
	}

	if err := writeKeyFile(e.privateKeyPath, sealed, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := writeKeyFile(e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0o644); err != nil {
		os.Remove(e.privateKeyPath)
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// sealIdentity encrypts identity with passphrase into an armored age file.
func sealIdentity(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("armoring private key: %w", err)
	}
	return buf.Bytes(), nil
}

// writeKeyFile writes data to path through a temporary file in the same
// directory, so readers see either no key or a complete one.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-key-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Encrypt copies r to w encrypted to the public key. The key file is read
// once per encryptor.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return err
	}

	ew, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(ew, r); err != nil {
		return fmt.Errorf("encrypting archive: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Recipient returns the public key archives are encrypted to.
func (e *AgeEncryptor) Recipient() (string, error) {
	recipient, err := e.loadRecipient()
	if err != nil {
		return "", err
	}
	if s, ok := recipient.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return "", errors.New("recipient has no text form")
}

// Unlock opens the private key with passphrase for restoring archives.
func (e *AgeEncryptor) Unlock(passphrase string) (snap.DecryptionContext, error) {
	f, err := os.Open(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	defer f.Close()

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(armor.NewReader(f), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("private key file holds no identity")
	}
	return &AgeDecryptionContext{identity: identities[0]}, nil
}

func (e *AgeEncryptor) Extension() string {
	return Extension
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	return fileExists(e.publicKeyPath) && fileExists(e.privateKeyPath)
}

func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.publicKeyPath, err)
	}
	e.recipient = recipient
	return recipient, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AgeDecryptionContext holds an unlocked identity.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ snap.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt copies the plaintext of the age file r to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	dr, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening encrypted archive: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting archive: %w", err)
	}
	return nil
}
