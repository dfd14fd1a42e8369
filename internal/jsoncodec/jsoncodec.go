// Package jsoncodec is the JSON encoder used for message bodies.
package jsoncodec

import "github.com/bytedance/sonic"

var std = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool {
	return std.Valid(data)
}
