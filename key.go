package querykit

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// fallbackTag marks segments CBOR could not encode (funcs, chans). Their
// identity is then process-local.
const fallbackTag = 0x716b

// Key is an ordered sequence of segments (strings, numbers or serialisable
// structs/maps) naming a query or mutation family. Two keys are equal iff their
// segments are deep-equal; map ordering does not matter.
type Key []any

// keyEnc encodes segments with RFC 8949 core deterministic rules so that
// equal values always produce equal bytes.
var keyEnc = func() cbor.EncMode {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Compose returns a function that appends an optional suffix to base.
// Compose(base)(nil) equals base. The result never aliases base or suffix.
func Compose(base Key) func(suffix Key) Key {
	b := append(Key(nil), base...)
	return func(suffix Key) Key {
		out := make(Key, 0, len(b)+len(suffix))
		out = append(out, b...)
		return append(out, suffix...)
	}
}

// ID returns the canonical identity of k, usable as a map key.
//
// Every segment is a self-delimiting CBOR item, so the concatenation is
// unambiguous and a key prefix is always a byte prefix of the ID.
func (k Key) ID() string {
	var b strings.Builder
	for _, seg := range k {
		b.Write(encodeSegment(seg))
	}
	return b.String()
}

// Equal reports whether k and other name the same entry.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.ID() == other.ID()
}

// HasPrefix reports whether prefix matches the leading segments of k.
// An empty prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return strings.HasPrefix(k.ID(), prefix.ID())
}

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, seg := range k {
		if s, ok := seg.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
			continue
		}
		parts[i] = fmt.Sprintf("%v", seg)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func encodeSegment(seg any) []byte {
	b, err := keyEnc.Marshal(seg)
	if err == nil {
		return b
	}
	b, err = keyEnc.Marshal(cbor.Tag{Number: fallbackTag, Content: fmt.Sprintf("%T:%v", seg, seg)})
	if err != nil {
		// a tagged text string always encodes
		panic(err)
	}
	return b
}

// Segmenter lets an argument type choose the key segments it contributes.
type Segmenter interface {
	KeySegments() []any
}

// NoArgs is the argument type for resources that take no call arguments.
// It contributes no key segments.
type NoArgs struct{}

// ArgSegments turns call arguments into key segments. Slices and arrays are
// spread, empty structs contribute nothing and any other value becomes a
// single segment.
func ArgSegments(args any) []any {
	switch a := args.(type) {
	case nil:
		return nil
	case Segmenter:
		return a.KeySegments()
	case Key:
		return append([]any(nil), a...)
	case []any:
		return append([]any(nil), a...)
	case []byte:
		return []any{a}
	}

	rv := reflect.ValueOf(args)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Struct:
		if rv.NumField() == 0 {
			return nil
		}
	}
	return []any{args}
}
