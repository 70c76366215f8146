// Package fieldcrypt seals individual text columns with AES-256-GCM.
//
// Each value is encrypted under a key derived from the master secret and a
// fresh random salt, and stored as a JSON envelope of hex fields. Values that
// are not envelopes are treated as legacy plaintext and passed through on read.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize          = 32
	ivSize           = 16
	saltSize         = 32
	tagSize          = 16
	defaultIteration = 100000
)

var (
	ErrMissingKey = errors.New("encryption key is required")
	ErrInvalidKey = fmt.Errorf("encryption key must be %d hex characters (%d bytes)", KeySize*2, KeySize)
)

// Envelope is the stored form of an encrypted value.
type Envelope struct {
	EncryptedData string `json:"encryptedData"`
	IV            string `json:"iv"`
	Tag           string `json:"tag"`
	Salt          string `json:"salt"`
}

type Codec struct {
	secret     []byte
	iterations int
	random     io.Reader
}

// NewCodec parses the hex master secret. It fails on a missing or malformed key
// so that startup aborts before any plaintext can be written.
func NewCodec(hexKey string) (*Codec, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrMissingKey
	}
	secret, err := hex.DecodeString(hexKey)
	if err != nil || len(secret) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Codec{secret: secret, iterations: defaultIteration, random: rand.Reader}, nil
}

// Encode returns the envelope JSON for value. Empty and whitespace-only values
// are returned unchanged.
func (c *Codec) Encode(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return value, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(c.random, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, iv, []byte(value), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	encoded, err := json.Marshal(Envelope{
		EncryptedData: hex.EncodeToString(ciphertext),
		IV:            hex.EncodeToString(iv),
		Tag:           hex.EncodeToString(tag),
		Salt:          hex.EncodeToString(salt),
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(encoded), nil
}

// Decode reverses Encode. Non-envelope values pass through unchanged, and an
// envelope that fails authentication is logged and returned as stored.
func (c *Codec) Decode(stored string) string {
	env, ok := parseEnvelope(stored)
	if !ok {
		return stored
	}
	plaintext, err := c.open(env)
	if err != nil {
		log.Printf("fieldcrypt: decrypt failed: %v", err)
		return stored
	}
	return plaintext
}

// IsEnvelope reports whether stored looks like an encrypted value.
func IsEnvelope(stored string) bool {
	_, ok := parseEnvelope(stored)
	return ok
}

func (c *Codec) open(env envelopeBytes) (string, error) {
	aead, err := c.aead(env.salt)
	if err != nil {
		return "", err
	}
	sealed := make([]byte, 0, len(env.data)+len(env.tag))
	sealed = append(sealed, env.data...)
	sealed = append(sealed, env.tag...)
	plaintext, err := aead.Open(nil, env.iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open envelope: %w", err)
	}
	return string(plaintext), nil
}

func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, c.iterations, KeySize, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}

type envelopeBytes struct {
	data, iv, tag, salt []byte
}

func parseEnvelope(stored string) (envelopeBytes, bool) {
	trimmed := strings.TrimSpace(stored)
	if !strings.HasPrefix(trimmed, "{") {
		return envelopeBytes{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return envelopeBytes{}, false
	}
	data, err1 := hex.DecodeString(env.EncryptedData)
	iv, err2 := hex.DecodeString(env.IV)
	tag, err3 := hex.DecodeString(env.Tag)
	salt, err4 := hex.DecodeString(env.Salt)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return envelopeBytes{}, false
	}
	if len(iv) != ivSize || len(tag) != tagSize || len(salt) == 0 {
		return envelopeBytes{}, false
	}
	return envelopeBytes{data: data, iv: iv, tag: tag, salt: salt}, true
}
