package payloads

import "encoding/json"

type Algorithm string

const (
	AlgorithmNone      Algorithm = "none"
	AlgorithmAES256GCM Algorithm = "aes-256-gcm"
)

const (
	EnvelopeVersion  = 1
	TransportVersion = 1
)

// Transport describes how Text was produced. AuthTagLength, AuthTag and IV
// are only set for aes-256-gcm.
type Transport struct {
	Version       int       `json:"ev" mapstructure:"ev"`
	Algorithm     Algorithm `json:"alg" mapstructure:"alg"`
	AuthTagLength int       `json:"atl,omitempty" mapstructure:"atl"`
	AuthTag       string    `json:"at,omitempty" mapstructure:"at"`
	IV            string    `json:"iv,omitempty" mapstructure:"iv"`
}

// Envelope is the signed, optionally encrypted transport form of a job
// payload.
type Envelope struct {
	Version   int       `json:"v" mapstructure:"v"`
	Transport Transport `json:"transport" mapstructure:"transport"`
	Text      string    `json:"text" mapstructure:"text"`
	Signature string    `json:"signature" mapstructure:"signature"`
}

// Opened is the result of verifying and decoding an envelope. Verified is
// false only when signature checks failed and unverified payloads were
// explicitly allowed.
type Opened struct {
	Payload  json.RawMessage `json:"payload"`
	Verified bool            `json:"verified"`
}

// JobView is a job together with its opened payload.
type JobView struct {
	Job
	Payload  json.RawMessage `json:"payload"`
	Verified bool            `json:"verified"`
}
