package library

import "github.com/hookcron/hookcron-go/pkg/payloads"

// Codec seals payloads into envelopes and opens them again using the
// configured signing secrets and encryption keys.
type Codec interface {
	Seal(payload any) (string, error)
	Open(body any) (*payloads.Opened, error)
}
