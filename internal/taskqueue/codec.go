package taskqueue

import (
	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

// EncodeTask CBOR-encodes a Task.
func EncodeTask(t Task) ([]byte, error) {
	data, err := cbor.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "taskqueue: encode task")
	}
	return data, nil
}

// DecodeTask CBOR-decodes a Task.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "taskqueue: decode task")
	}
	return &t, nil
}
