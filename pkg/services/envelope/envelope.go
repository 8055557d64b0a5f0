package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/pkg/payloads"
)

const (
	ivLength      = 12
	authTagLength = 16
)

type wrapper struct {
	Envelope any `json:"envelope"`
}

type rawWrapper struct {
	Envelope json.RawMessage `json:"envelope"`
}

// Seal serializes payload, encrypts it when key is non-empty and signs the
// resulting text with secret.
func Seal(payload any, key, secret string) (*payloads.Envelope, error) {
	plain, err := json.Marshal(wrapper{Envelope: payload})
	if err != nil {
		return nil, core.ErrFailedToMarshalPayload.WithArgs(err)
	}

	env := &payloads.Envelope{
		Version: payloads.EnvelopeVersion,
		Transport: payloads.Transport{
			Version:   payloads.TransportVersion,
			Algorithm: payloads.AlgorithmNone,
		},
		Text: string(plain),
	}

	if key != "" {
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		iv := make([]byte, ivLength)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("failed to generate iv: %w", err)
		}
		sealed := gcm.Seal(nil, iv, plain, nil)
		ciphertext, tag := sealed[:len(sealed)-authTagLength], sealed[len(sealed)-authTagLength:]

		env.Transport = payloads.Transport{
			Version:       payloads.TransportVersion,
			Algorithm:     payloads.AlgorithmAES256GCM,
			AuthTagLength: authTagLength,
			AuthTag:       base64.StdEncoding.EncodeToString(tag),
			IV:            base64.StdEncoding.EncodeToString(iv),
		}
		env.Text = base64.StdEncoding.EncodeToString(ciphertext)
	}

	env.Signature = sign(env.Text, secret)
	return env, nil
}

// Open verifies env against secrets (current first) and decrypts it with
// the first key that works. With strict unset a signature mismatch is not
// fatal; the result is flagged as unverified instead.
func Open(env *payloads.Envelope, secrets, keys []string, strict bool) (*payloads.Opened, error) {
	if env.Version != payloads.EnvelopeVersion {
		return nil, fmt.Errorf("%w: %d", core.ErrEnvelopeVersionUnsupported, env.Version)
	}

	verified := Verify(env, secrets)
	if !verified && strict {
		return nil, core.ErrSignatureMismatch
	}

	plain, err := decrypt(env, keys)
	if err != nil {
		return nil, err
	}

	var w rawWrapper
	if err := json.Unmarshal(plain, &w); err != nil {
		return nil, core.ErrFailedToUnmarshalPayload.WithArgs(err)
	}
	if w.Envelope == nil {
		w.Envelope = json.RawMessage("null")
	}
	return &payloads.Opened{Payload: w.Envelope, Verified: verified}, nil
}

// Verify reports whether env.Signature matches any of the secrets. The
// encoded form is compared so that non-canonical base64 never passes.
func Verify(env *payloads.Envelope, secrets []string) bool {
	got := []byte(env.Signature)
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		if hmac.Equal(got, []byte(sign(env.Text, secret))) {
			return true
		}
	}
	return false
}

func decrypt(env *payloads.Envelope, keys []string) ([]byte, error) {
	switch env.Transport.Algorithm {
	case payloads.AlgorithmNone:
		return []byte(env.Text), nil
	case payloads.AlgorithmAES256GCM:
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedAlgorithm, env.Transport.Algorithm)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Text)
	if err != nil {
		return nil, core.ErrFailedToDecodeField.WithArgs("text", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Transport.AuthTag)
	if err != nil {
		return nil, core.ErrFailedToDecodeField.WithArgs("at", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.Transport.IV)
	if err != nil {
		return nil, core.ErrFailedToDecodeField.WithArgs("iv", err)
	}
	if len(iv) != ivLength || len(tag) != authTagLength {
		return nil, core.ErrNoValidDecryptionKey
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	for _, key := range keys {
		if key == "" {
			continue
		}
		gcm, err := newGCM(key)
		if err != nil {
			continue
		}
		plain, err := gcm.Open(nil, iv, sealed, nil)
		if err == nil {
			return plain, nil
		}
	}
	return nil, core.ErrNoValidDecryptionKey
}

// newGCM hashes key to the 32 bytes AES-256 needs, whatever the input
// length.
func newGCM(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, authTagLength)
}

func mac(text, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(text))
	return h.Sum(nil)
}

func sign(text, secret string) string {
	return base64.StdEncoding.EncodeToString(mac(text, secret))
}
