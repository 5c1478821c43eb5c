package codec

import "google.golang.org/grpc/encoding"

// GRPCName is the content-subtype clients select with
// grpc.CallContentSubtype to talk CBOR to the payment-event service.
const GRPCName = "cbor"

func init() {
	encoding.RegisterCodec(grpcCodec{})
}

type grpcCodec struct{}

func (grpcCodec) Marshal(v any) ([]byte, error) { return Marshal(v) }

func (grpcCodec) Unmarshal(data []byte, v any) error { return Unmarshal(data, v) }

func (grpcCodec) Name() string { return GRPCName }
