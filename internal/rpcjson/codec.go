// Package rpcjson registers a JSON codec with grpc-go so services can be
// declared with plain Go message structs instead of generated protobuf types.
package rpcjson

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype negotiated on the wire (application/grpc+json).
const Name = "json"

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcjson marshal %T: %w", v, err)
	}
	return b, nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcjson unmarshal %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(codec{})
}

// DialOption makes every call on a connection use the JSON codec.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name))
}
