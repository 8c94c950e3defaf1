// Package wire implements stoat's request/response RPC protocol.
// Every message is a length-prefixed msgpack frame carrying a request id,
// an operation tag and the operation payload. ALL msgpack operations MUST
// go through Marshal/Unmarshal to ensure consistent behavior.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package wire

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}
