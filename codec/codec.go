// Package codec turns persisted query values into bytes and back.
package codec

// Codec encodes values V to []byte for storage and decodes them back.
// Implementations must be safe for concurrent use.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
