package tracepb

import (
	"encoding"
	"fmt"

	grpcencoding "google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype both ends of the walk-trace service
// negotiate. The messages are hand-maintained, so the stock proto codec
// cannot serialize them; this codec routes them through their own wire
// methods instead.
const CodecName = "walktrace"

func init() {
	grpcencoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Name() string {
	return CodecName
}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("walktrace codec: cannot marshal %T", v)
	}
	return m.MarshalBinary()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("walktrace codec: cannot unmarshal into %T", v)
	}
	return m.UnmarshalBinary(data)
}
