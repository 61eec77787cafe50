package serializer

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/petrijr/umeboshi/pkg/api"
)

// JSON serializes arguments as a JSON array. Map keys are sorted by
// encoding/json, so output is deterministic. Type information is lost:
// numbers decode as json.Number and timestamps as RFC 3339 strings.
type JSON struct{}

var _ api.Serializer = JSON{}

// NewJSON returns a JSON argument serializer.
func NewJSON() JSON { return JSON{} }

func (JSON) Name() string { return "json" }

func (JSON) Serialize(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "json: encode arguments")
	}
	return data, nil
}

func (JSON) Deserialize(data []byte) ([]any, error) {
	if len(data) == 0 {
		return []any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out []any
	if err := dec.Decode(&out); err != nil {
		return nil, errors.Wrap(err, "json: decode arguments")
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}
