package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
)

const (
	methodWrite      = "/ytcore.TabletService/Write"
	methodLookupRows = "/ytcore.TabletService/LookupRows"
	methodPostAction = "/ytcore.TabletService/PostAction"
)

// GRPCTabletServiceClient implements TabletServiceClient over a dialed
// connection to one participant cell's peer (spec §4.D/F/G). Each request
// is one JSON document with two fields: Header (the JSON-encoded header)
// and Attachment (the row batch or key set bytes, base64-encoded by
// encoding/json).
type GRPCTabletServiceClient struct {
	conn *grpc.ClientConn
}

// NewGRPCTabletServiceClient wraps an already-dialed connection to a
// tablet cell peer.
func NewGRPCTabletServiceClient(conn *grpc.ClientConn) *GRPCTabletServiceClient {
	return &GRPCTabletServiceClient{conn: conn}
}

type envelopeRequest struct {
	Header     json.RawMessage
	Attachment []byte
}

func encodeEnvelopeRequest(header interface{}, attachment []byte) ([]byte, error) {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	return json.Marshal(envelopeRequest{Header: headerBytes, Attachment: attachment})
}

func (c *GRPCTabletServiceClient) Write(ctx context.Context, header WriteRequestHeader, batch []byte) (WriteResponse, error) {
	req, err := encodeEnvelopeRequest(header, batch)
	if err != nil {
		return WriteResponse{}, err
	}
	if _, err := invoke(ctx, c.conn, methodWrite, req); err != nil {
		return WriteResponse{}, err
	}
	return WriteResponse{}, nil
}

func (c *GRPCTabletServiceClient) LookupRows(ctx context.Context, header LookupRequestHeader, keys []byte) (LookupResponse, error) {
	req, err := encodeEnvelopeRequest(header, keys)
	if err != nil {
		return LookupResponse{}, err
	}
	respBytes, err := invoke(ctx, c.conn, methodLookupRows, req)
	if err != nil {
		return LookupResponse{}, err
	}
	var resp LookupResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return LookupResponse{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}

func (c *GRPCTabletServiceClient) PostAction(ctx context.Context, req ActionRequest) error {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = invoke(ctx, c.conn, methodPostAction, reqBytes)
	return err
}
