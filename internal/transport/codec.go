package transport

import (
	"google.golang.org/grpc/encoding"

	"github.com/leifraft/leifraft/internal/gobcodec"
)

const codecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements grpc/encoding.Codec so an Envelope travels over gRPC
// through encoding/gob instead of a protoc-generated protobuf codec — there
// is no .proto file anywhere in this module.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	return gobcodec.Marshal(v)
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gobcodec.Unmarshal(data, v)
}

func (gobCodec) Name() string { return codecName }
