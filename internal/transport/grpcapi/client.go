package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"agrosentry/internal/transport"
)

// Client is a thin caller for FleetService over a JSON-codec connection.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// DialOptions returns the options a connection to FleetService needs.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec()))}
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Login issues a token and uses it for every later call.
func (c *Client) Login(ctx context.Context, name, role string) error {
	var resp TokenResponse
	if err := c.conn.Invoke(ctx, methodIssueToken, &TokenRequest{Name: name, Role: role}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

func (c *Client) Invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(c.withBearer(ctx), "/"+serviceName+"/"+method, req, resp)
}

// Subscribe calls fn for every snapshot until ctx ends or fn returns an
// error.
func (c *Client) Subscribe(ctx context.Context, fn func(transport.SnapshotResponse) error) error {
	stream, err := c.conn.NewStream(c.withBearer(ctx), &SubscribeStreamDesc, methodSubscribe)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var snap transport.SnapshotResponse
		if err := stream.RecvMsg(&snap); err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

func (c *Client) withBearer(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}
