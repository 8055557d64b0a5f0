package envelope

import (
	"errors"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"go.uber.org/zap"
)

// Keyring holds the signing secrets and encryption keys of one scope.
// Expired entries are only ever used to open, never to seal.
type Keyring struct {
	Secret         string
	ExpiredSecrets []string
	Key            string
	ExpiredKeys    []string
	// AllowUnverified lets payloads with a bad signature through, flagged as
	// unverified. Off by default.
	AllowUnverified bool
}

func (k Keyring) secrets() []string {
	return append([]string{k.Secret}, k.ExpiredSecrets...)
}

func (k Keyring) keys() []string {
	return append([]string{k.Key}, k.ExpiredKeys...)
}

type Service struct {
	keyring Keyring
	log     *logger.Logger
}

func New(keyring Keyring, log *logger.Logger) (library.Codec, error) {
	if keyring.Secret == "" {
		return nil, errors.New("signing secret is required")
	}
	return &Service{keyring: keyring, log: log}, nil
}

func (s *Service) Seal(payload any) (string, error) {
	env, err := Seal(payload, s.keyring.Key, s.keyring.Secret)
	if err != nil {
		s.log.Error("Failed to seal payload", zap.Error(err))
		return "", err
	}
	return Marshal(env)
}

func (s *Service) Open(body any) (*payloads.Opened, error) {
	env, err := Parse(body)
	if err != nil {
		return nil, err
	}

	opened, err := Open(env, s.keyring.secrets(), s.keyring.keys(), !s.keyring.AllowUnverified)
	if err != nil {
		if errors.Is(err, core.ErrSignatureMismatch) {
			s.log.Warn("Rejected envelope with invalid signature")
		}
		return nil, err
	}
	if !opened.Verified {
		s.log.Warn("Accepted envelope with invalid signature, unverified signatures are allowed",
			zap.String("algorithm", string(env.Transport.Algorithm)))
	}
	return opened, nil
}
