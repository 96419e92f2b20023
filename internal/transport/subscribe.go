package transport

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/bcs"
)

// subscribeCheckpointsMethod is the streaming RPC's full method path, named
// after the original client's sui_rpc_v2.SubscriptionService/SubscribeCheckpoints
// (_examples/original_source/crates/sui-transport/src/grpc/client.rs). No
// generated client stub for this service was retrieved into the pack, so
// this backend opens the stream itself via grpc.ClientConn.NewStream rather
// than fabricate one.
const subscribeCheckpointsMethod = "/sui.rpc.v2.SubscriptionService/SubscribeCheckpoints"

// subscribeCheckpointsRequest is this backend's own wire request, BCS-coded
// since no protobuf message for it exists in the pack.
type subscribeCheckpointsRequest struct {
	FromSequence uint64
}

// bcsStreamCodec is a grpc encoding.Codec that marshals
// *subscribeCheckpointsRequest and unmarshals into *Checkpoint using
// internal/bcs, reusing the same wire format the rest of this module reads
// object/transaction bytes with instead of a protobuf schema this repo does
// not define.
type bcsStreamCodec struct{}

func (bcsStreamCodec) Name() string { return "bcs" }

func (bcsStreamCodec) Marshal(v interface{}) ([]byte, error) {
	req, ok := v.(*subscribeCheckpointsRequest)
	if !ok {
		return nil, fmt.Errorf("transport: bcs codec cannot marshal %T", v)
	}
	w := bcs.NewWriter()
	w.WriteU64(req.FromSequence)
	return w.Bytes(), nil
}

func (bcsStreamCodec) Unmarshal(data []byte, v interface{}) error {
	cp, ok := v.(*Checkpoint)
	if !ok {
		return fmt.Errorf("transport: bcs codec cannot unmarshal into %T", v)
	}
	r := bcs.NewReader(data)
	seq, err := r.ReadU64()
	if err != nil {
		return fmt.Errorf("transport: decode checkpoint sequence: %w", err)
	}
	epoch, err := r.ReadU64()
	if err != nil {
		return fmt.Errorf("transport: decode checkpoint epoch: %w", err)
	}
	txCount, err := r.ReadULEB128()
	if err != nil {
		return fmt.Errorf("transport: decode checkpoint tx count: %w", err)
	}
	txs := make([]string, txCount)
	for i := range txs {
		b, err := r.ReadBytes()
		if err != nil {
			return fmt.Errorf("transport: decode checkpoint tx %d: %w", i, err)
		}
		txs[i] = string(b)
	}
	objCount, err := r.ReadULEB128()
	if err != nil {
		return fmt.Errorf("transport: decode checkpoint object count: %w", err)
	}
	objs := make([]address.Address, objCount)
	for i := range objs {
		b, err := r.ReadFixedBytes(address.Length)
		if err != nil {
			return fmt.Errorf("transport: decode checkpoint object %d: %w", i, err)
		}
		copy(objs[i][:], b)
	}
	*cp = Checkpoint{Sequence: seq, Epoch: epoch, Transactions: txs, Objects: objs}
	return nil
}

func init() {
	encoding.RegisterCodec(bcsStreamCodec{})
}

// SubscribeCheckpoints opens a real gRPC server-streaming call against
// subscribeCheckpointsMethod. The dial and stream-open are genuine; absent
// a live Sui gRPC endpoint speaking this module's BCS codec (no generated
// proto client exists to verify wire compatibility against a real server —
// see DESIGN.md), the first RecvMsg is expected to surface a transport
// error rather than a checkpoint, keeping this an honest seam like every
// other RPCBackend method instead of faking success.
func (b *RPCBackend) SubscribeCheckpoints(ctx context.Context, fromSeq uint64) (<-chan *Checkpoint, <-chan error) {
	out := make(chan *Checkpoint)
	errc := make(chan error, 1)

	conn, err := b.connection()
	if err != nil {
		close(out)
		errc <- err
		return out, errc
	}

	go func() {
		defer close(out)
		stream, err := conn.NewStream(ctx, &grpc.StreamDesc{
			StreamName:    "SubscribeCheckpoints",
			ServerStreams: true,
		}, subscribeCheckpointsMethod, grpc.CallContentSubtype(bcsStreamCodec{}.Name()))
		if err != nil {
			errc <- &Error{Kind: ErrNetworkTimeout, SourceID: b.opts.Endpoint, Message: err.Error()}
			return
		}
		if err := stream.SendMsg(&subscribeCheckpointsRequest{FromSequence: fromSeq}); err != nil {
			errc <- &Error{Kind: ErrNetworkTimeout, SourceID: b.opts.Endpoint, Message: err.Error()}
			return
		}
		if err := stream.CloseSend(); err != nil {
			errc <- &Error{Kind: ErrNetworkTimeout, SourceID: b.opts.Endpoint, Message: err.Error()}
			return
		}
		for {
			cp := &Checkpoint{}
			if err := stream.RecvMsg(cp); err != nil {
				if err == io.EOF {
					errc <- nil
				} else {
					errc <- &Error{Kind: ErrNetworkTimeout, SourceID: b.opts.Endpoint, Message: err.Error()}
				}
				return
			}
			select {
			case out <- cp:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}
