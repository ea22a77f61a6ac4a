package server

import (
	"context"

	"github.com/joeycumines/go-inprocgrpc"
	"google.golang.org/grpc"

	"github.com/joeycumines/go-fastsync/backend"
)

// Client calls a Coordinator over any gRPC connection. Status errors are
// translated back to the package's sentinel errors.
//
// Client also implements backend.Coordinator, so the port backend can send
// its wait registrations and wakes to a remote server.
type Client struct {
	cc   grpc.ClientConnInterface
	opts []grpc.CallOption
}

// NewClient wraps cc. The JSON codec is forced on every call.
func NewClient(cc grpc.ClientConnInterface, opts ...grpc.CallOption) *Client {
	return &Client{
		cc:   cc,
		opts: append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...),
	}
}

var _ backend.Coordinator = (*Client)(nil)

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, c.opts...); err != nil {
		return nil, FromStatus(err)
	}
	return out, nil
}

func (c *Client) Hello(ctx context.Context, in *HelloRequest) (*HelloReply, error) {
	return invoke[HelloReply](ctx, c, "Hello", in)
}

func (c *Client) Create(ctx context.Context, in *CreateRequest) (*CreateReply, error) {
	return invoke[CreateReply](ctx, c, "Create", in)
}

func (c *Client) Open(ctx context.Context, in *OpenRequest) (*OpenReply, error) {
	return invoke[OpenReply](ctx, c, "Open", in)
}

func (c *Client) GetDescriptor(ctx context.Context, in *DescriptorRequest) (*DescriptorReply, error) {
	return invoke[DescriptorReply](ctx, c, "GetDescriptor", in)
}

func (c *Client) Close(ctx context.Context, in *CloseRequest) error {
	_, err := invoke[Empty](ctx, c, "Close", in)
	return err
}

func (c *Client) RegisterWait(ctx context.Context, tid uint32, sem int, indices []uint32) error {
	_, err := invoke[Empty](ctx, c, "RegisterWait", &RegisterWaitRequest{TID: tid, Semaphore: sem, Indices: indices})
	return err
}

func (c *Client) UnregisterWait(ctx context.Context, tid uint32) error {
	_, err := invoke[Empty](ctx, c, "UnregisterWait", &UnregisterWaitRequest{TID: tid})
	return err
}

func (c *Client) Wake(ctx context.Context, index uint32) error {
	_, err := invoke[Empty](ctx, c, "Wake", &WakeRequest{Index: index})
	return err
}

// NewInProcess returns a channel serving srv on loop, copying messages
// through the JSON codec so neither side can alias the other's memory.
func NewInProcess(loop inprocgrpc.Loop, srv CoordinatorServer, opts ...inprocgrpc.Option) *inprocgrpc.Channel {
	opts = append([]inprocgrpc.Option{
		inprocgrpc.WithLoop(loop),
		inprocgrpc.WithCloner(inprocgrpc.CodecCloner(Codec{})),
	}, opts...)
	ch := inprocgrpc.NewChannel(opts...)
	RegisterCoordinatorServer(ch, srv)
	return ch
}
