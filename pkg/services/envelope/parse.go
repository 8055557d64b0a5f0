package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/mitchellh/mapstructure"
)

// Parse accepts the envelope in whatever shape a hosting framework hands
// it over: the stored string, raw bytes, an already decoded struct or a
// generic JSON object.
func Parse(body any) (*payloads.Envelope, error) {
	switch v := body.(type) {
	case nil:
		return nil, core.ErrFailedToUnmarshalPayload.WithArgs("empty body")
	case *payloads.Envelope:
		return v, nil
	case payloads.Envelope:
		return &v, nil
	case string:
		return parseJSON([]byte(v))
	case []byte:
		return parseJSON(v)
	case json.RawMessage:
		return parseJSON(v)
	case map[string]any:
		return decodeMap(v)
	default:
		return nil, fmt.Errorf("unsupported envelope body type %T", body)
	}
}

func parseJSON(raw []byte) (*payloads.Envelope, error) {
	var env payloads.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, core.ErrFailedToUnmarshalPayload.WithArgs(err)
	}
	return &env, nil
}

func decodeMap(m map[string]any) (*payloads.Envelope, error) {
	var env payloads.Envelope
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &env,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(m); err != nil {
		return nil, core.ErrFailedToUnmarshalPayload.WithArgs(err)
	}
	return &env, nil
}

// Marshal renders env in its stored string form.
func Marshal(env *payloads.Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", core.ErrFailedToMarshalPayload.WithArgs(err)
	}
	return string(raw), nil
}
