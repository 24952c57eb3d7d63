// internal/vault/crypto.go
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrDecryption covers key mismatch, unknown key version and corrupted input.
var ErrDecryption = errors.New("decryption failed")

// sealer does AES-256-GCM with a leading key-version byte, so the active key
// can be rotated without a flag-day re-encryption: new writes use the active
// key, reads dispatch on the version stored with each ciphertext.
type sealer struct {
	active  uint8
	keyring map[uint8][32]byte
}

func newSealer(activeID uint8, activeKey string, prior map[uint8]string) (*sealer, error) {
	if activeKey == "" {
		return nil, errors.New("empty encryption key")
	}
	s := &sealer{active: activeID, keyring: map[uint8][32]byte{}}
	s.keyring[activeID] = sha256.Sum256([]byte(activeKey))
	for id, k := range prior {
		if id == activeID {
			continue
		}
		s.keyring[id] = sha256.Sum256([]byte(k))
	}
	return s, nil
}

// seal encrypts plaintext under the active key. Output layout:
// keyVersion(1) || nonce || ciphertext.
func (s *sealer) seal(plain []byte) ([]byte, error) {
	gcm, err := s.aead(s.active)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, plain, nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = s.active
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return out, nil
}

func (s *sealer) unseal(blob []byte) ([]byte, error) {
	if len(blob) < 2 {
		return nil, ErrDecryption
	}
	gcm, err := s.aead(blob[0])
	if err != nil {
		return nil, ErrDecryption
	}
	rest := blob[1:]
	if len(rest) < gcm.NonceSize() {
		return nil, ErrDecryption
	}
	plain, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

func (s *sealer) aead(version uint8) (cipher.AEAD, error) {
	key, ok := s.keyring[version]
	if !ok {
		return nil, fmt.Errorf("unknown key version %d", version)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
