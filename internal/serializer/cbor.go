package serializer

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"

	"github.com/petrijr/umeboshi/pkg/api"
)

// CBOR encodes arguments with deterministic (core) CBOR encoding, so equal
// argument lists always produce equal bytes across processes.
//
// Decoding into []any yields int64 for integers, float64 for floats,
// map[string]any for maps and time.Time for timestamps.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ api.Serializer = (*CBOR)(nil)

// NewCBOR returns the default argument serializer.
func NewCBOR() *CBOR {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encOpts.TimeTag = cbor.EncTagRequired
	enc, err := encOpts.EncMode()
	if err != nil {
		panic(errors.Wrap(err, "umeboshi: invalid cbor encode options"))
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(errors.Wrap(err, "umeboshi: invalid cbor decode options"))
	}

	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Name() string { return "cbor" }

func (c *CBOR) Serialize(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data, err := c.enc.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "cbor: encode arguments")
	}
	return data, nil
}

func (c *CBOR) Deserialize(data []byte) ([]any, error) {
	if len(data) == 0 {
		return []any{}, nil
	}
	var out []any
	if err := c.dec.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "cbor: decode arguments")
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}
