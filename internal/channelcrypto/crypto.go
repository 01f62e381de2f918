// Package channelcrypto encrypts and decrypts event payloads on
// private-encrypted channels. Each channel has its own key, derived from the
// shared secret and the channel name; payloads are sealed with NaCl secretbox
// under a fresh random 24-byte nonce.
package channelcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/Guliveer/pusher-go/internal/auth"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/model"
)

// NonceSize is the secretbox nonce length.
const NonceSize = 24

// Envelope is the wire form of an encrypted payload.
type Envelope struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Crypto derives channel keys on demand; keys are never stored.
type Crypto struct {
	signer *auth.Signer
	random io.Reader
}

// New creates a Crypto deriving keys with signer's keyed hash.
func New(signer *auth.Signer) *Crypto {
	return &Crypto{signer: signer, random: rand.Reader}
}

// DeriveKey returns the 32-byte key for channel.
func (c *Crypto) DeriveKey(channel string) ([32]byte, error) {
	return c.signer.DeriveKey(channel)
}

// Encrypt seals plaintext for channel under a fresh nonce.
func (c *Crypto) Encrypt(channel string, plaintext []byte) (Envelope, error) {
	if model.KindOf(channel) != model.ChannelPrivateEncrypted {
		return Envelope{}, errs.Errorf(errs.KindValidation, "encrypt",
			"channel %s is not a private-encrypted channel", channel)
	}

	key, err := c.DeriveKey(channel)
	if err != nil {
		return Envelope{}, err
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(c.random, nonce[:]); err != nil {
		return Envelope{}, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, plaintext, &nonce, &key)
	return Envelope{
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// EncryptString seals plaintext and returns the JSON envelope text, ready to
// be used as event data.
func (c *Crypto) EncryptString(channel, plaintext string) (string, error) {
	env, err := c.Encrypt(channel, []byte(plaintext))
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshaling envelope: %w", err)
	}
	return string(data), nil
}

// Decrypt opens env with channel's key.
func (c *Crypto) Decrypt(channel string, env Envelope) ([]byte, error) {
	nonceBytes, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, errs.E(errs.KindDecryption, "decrypt", fmt.Errorf("decoding nonce: %w", err))
	}
	if len(nonceBytes) != NonceSize {
		return nil, errs.Errorf(errs.KindDecryption, "decrypt",
			"nonce is %d bytes, want %d", len(nonceBytes), NonceSize)
	}

	box, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, errs.E(errs.KindDecryption, "decrypt", fmt.Errorf("decoding ciphertext: %w", err))
	}
	if len(box) < secretbox.Overhead {
		return nil, errs.Errorf(errs.KindDecryption, "decrypt",
			"ciphertext is %d bytes, shorter than the %d byte tag", len(box), secretbox.Overhead)
	}

	key, err := c.DeriveKey(channel)
	if err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	copy(nonce[:], nonceBytes)

	plaintext, ok := secretbox.Open(nil, box, &nonce, &key)
	if !ok {
		return nil, errs.Errorf(errs.KindDecryption, "decrypt", "authentication failed for channel %s", channel)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// DecryptString parses the JSON envelope text and opens it.
func (c *Crypto) DecryptString(channel, data string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, errs.E(errs.KindDecryption, "decrypt", fmt.Errorf("parsing envelope: %w", err))
	}
	return c.Decrypt(channel, env)
}
