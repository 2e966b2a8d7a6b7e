package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/config"
)

// Codec encodes message payloads in the configured wire format.
type Codec struct {
	format string
}

// NewCodec returns a codec for "json" or "cbor". An empty format means json.
func NewCodec(format string) (Codec, error) {
	switch format {
	case "", config.PayloadJSON:
		return Codec{format: config.PayloadJSON}, nil
	case config.PayloadCBOR:
		return Codec{format: config.PayloadCBOR}, nil
	}
	return Codec{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Format returns the codec's format name.
func (c Codec) Format() string {
	if c.format == "" {
		return config.PayloadJSON
	}
	return c.format
}

// Marshal encodes v.
func (c Codec) Marshal(v any) ([]byte, error) {
	if c.format == config.PayloadCBOR {
		return cbor.Marshal(v)
	}
	return json.Marshal(v)
}

// Unmarshal decodes data into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	if c.format == config.PayloadCBOR {
		return cbor.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}
