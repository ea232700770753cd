package cache

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a cache value with msgpack.
func Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "encode cache value")
	}
	return data, nil
}

// Unmarshal decodes a cache value produced by Marshal.
func Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "decode cache value")
	}
	return nil
}
