package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a runtime service.
type Client struct {
	publish  *connect.Client[PublishRequest, PublishResponse]
	spawn    *connect.Client[SpawnRequest, SpawnResponse]
	dispatch *connect.Client[DispatchRequest, DispatchResponse]
	output   *connect.Client[OutputRequest, OutputResponse]
	kill     *connect.Client[KillRequest, KillResponse]
	status   *connect.Client[StatusRequest, StatusResponse]
}

// NewClient returns a client for the service at baseURL, for example
// "http://127.0.0.1:7420".
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	codec := connect.WithCodec(Codec{})
	return &Client{
		publish:  connect.NewClient[PublishRequest, PublishResponse](httpClient, baseURL+PublishProcedure, codec),
		spawn:    connect.NewClient[SpawnRequest, SpawnResponse](httpClient, baseURL+SpawnProcedure, codec),
		dispatch: connect.NewClient[DispatchRequest, DispatchResponse](httpClient, baseURL+DispatchProcedure, codec),
		output:   connect.NewClient[OutputRequest, OutputResponse](httpClient, baseURL+OutputProcedure, codec),
		kill:     connect.NewClient[KillRequest, KillResponse](httpClient, baseURL+KillProcedure, codec),
		status:   connect.NewClient[StatusRequest, StatusResponse](httpClient, baseURL+StatusProcedure, codec),
	}
}

// DefaultClient returns a client using http.DefaultClient.
func DefaultClient(baseURL string) *Client {
	return NewClient(http.DefaultClient, baseURL)
}

// Publish stores a LUX binary in the server's program library.
func (c *Client) Publish(ctx context.Context, binary []byte) (*PublishResponse, error) {
	return call(ctx, c.publish, &PublishRequest{Binary: binary})
}

// Spawn starts an instance from a LUX binary.
func (c *Client) Spawn(ctx context.Context, binary []byte) (*SpawnResponse, error) {
	return call(ctx, c.spawn, &SpawnRequest{Binary: binary})
}

// SpawnModule starts an instance from a published module.
func (c *Client) SpawnModule(ctx context.Context, module string) (*SpawnResponse, error) {
	return call(ctx, c.spawn, &SpawnRequest{Module: module})
}

// Dispatch queues an event on instance id.
func (c *Client) Dispatch(ctx context.Context, id, event string, args ...any) error {
	_, err := call(ctx, c.dispatch, &DispatchRequest{ID: id, Event: event, Args: args})
	return err
}

// Output drains the output of instance id.
func (c *Client) Output(ctx context.Context, id string) ([]string, error) {
	resp, err := call(ctx, c.output, &OutputRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// Kill removes instance id.
func (c *Client) Kill(ctx context.Context, id string) error {
	_, err := call(ctx, c.kill, &KillRequest{ID: id})
	return err
}

// Status describes instance id, or every instance when id is empty.
func (c *Client) Status(ctx context.Context, id string) ([]InstanceStatus, error) {
	resp, err := call(ctx, c.status, &StatusRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
