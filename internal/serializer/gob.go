package serializer

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/petrijr/umeboshi/pkg/api"
)

func init() {
	gob.Register(time.Time{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Gob serializes arguments using encoding/gob. Concrete argument types other
// than the builtin ones, time.Time, map[string]any and []any must be
// registered with gob.Register by the caller.
//
// Gob assigns wire ids to non-builtin types in first-use order, so the
// bytes for such values can differ between processes. Use CBOR when dedup
// has to hold across restarts.
type Gob struct{}

var _ api.Serializer = Gob{}

// NewGob returns a gob argument serializer.
func NewGob() Gob { return Gob{} }

func (Gob) Name() string { return "gob" }

func (Gob) Serialize(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(args); err != nil {
		return nil, errors.Wrap(err, "gob: encode arguments")
	}
	return buf.Bytes(), nil
}

func (Gob) Deserialize(data []byte) ([]any, error) {
	if len(data) == 0 {
		return []any{}, nil
	}
	var out []any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "gob: decode arguments")
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}
