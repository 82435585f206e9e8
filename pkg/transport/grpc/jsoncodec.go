package grpc

import (
    "encoding/json"

    "google.golang.org/grpc/encoding"
)

// codecName is also the content-subtype peers must send
// (application/grpc+json).
const codecName = "json"

// jsonCodec carries the meta-service messages as plain JSON so the snapshot
// types in pkg/topology double as the wire format without protobuf codegen.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (jsonCodec) Name() string                    { return codecName }

func init() {
    encoding.RegisterCodec(jsonCodec{})
}
