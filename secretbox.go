package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	goerrors "github.com/goliatone/go-errors"
)

// SecretBox seals small secrets (the TOTP secret at rest) with AES-GCM.
// Encryption is authenticated and reversible, which a one-way hash is
// not: verification has to read the secret back.
type SecretBox struct {
	key []byte
}

// NewSecretBox validates the key length and returns a box. The key must
// be 16, 24, or 32 bytes (AES-128/192/256).
func NewSecretBox(key []byte) (*SecretBox, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, goerrors.New("encryption key must be 16, 24, or 32 bytes", goerrors.CategoryValidation)
	}
	return &SecretBox{key: key}, nil
}

// Seal encrypts the plaintext with a fresh random nonce. Ciphertext and
// nonce are returned separately for storage in their own columns.
func (b *SecretBox) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize cipher")
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize GCM")
	}

	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate nonce")
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts and authenticates a previously sealed secret.
func (b *SecretBox) Open(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize cipher")
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize GCM")
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decrypt secret")
	}
	return plaintext, nil
}
