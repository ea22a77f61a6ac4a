package server

import (
	"encoding/json"
	"fmt"
)

// Codec is the grpc encoding.Codec used for every Coordinator message.
// Its name doubles as the content subtype, application/grpc+json.
type Codec struct{}

// CodecName is the registered name of Codec.
const CodecName = "json"

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("server: marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("server: unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }
