// Package serializer provides the argument codecs used to store Routine
// arguments on Events, and the content hash used for dedup lookups.
package serializer

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/petrijr/umeboshi/pkg/api"
)

// DefaultName is the codec used when none is configured.
const DefaultName = "cbor"

var constructors = map[string]func() api.Serializer{
	"cbor": func() api.Serializer { return NewCBOR() },
	"gob":  func() api.Serializer { return NewGob() },
	"json": func() api.Serializer { return NewJSON() },
}

// Default returns the default serializer.
func Default() api.Serializer {
	return NewCBOR()
}

// Lookup returns the serializer registered under name. An empty name
// selects the default.
func Lookup(name string) (api.Serializer, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultName
	}
	ctor, ok := constructors[key]
	if !ok {
		err := errors.Newf("umeboshi: unknown serializer %q", name)
		return nil, errors.WithHintf(err, "known serializers: %s", strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists the known serializer names in sorted order.
func Names() []string {
	out := make([]string, 0, len(constructors))
	for n := range constructors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Hash returns the hex md5 of a serialized blob. It identifies equal blobs
// for dedup; it is not an integrity check.
func Hash(blob []byte) string {
	sum := md5.Sum(blob)
	return hex.EncodeToString(sum[:])
}
