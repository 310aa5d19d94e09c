package rpc

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DialOptions configures how a gRPC client dials a collaborator (master,
// coordinator, or a tablet cell's peer).
type DialOptions struct {
	Address  string
	TLS      *tls.Config // nil dials insecure, for tests and local development
}

// Dial opens a gRPC connection to a collaborator, mirroring the teacher's
// connectWithMTLS/NewClient pattern in pkg/client/client.go.
func Dial(opts DialOptions) (*grpc.ClientConn, error) {
	var creds grpc.DialOption
	if opts.TLS != nil {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(opts.TLS))
	} else {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	conn, err := grpc.NewClient(opts.Address, creds)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Address, err)
	}
	return conn, nil
}

// invoke is the shared raw-bytes RPC call every collaborator client in
// this package uses in place of a generated stub method (see package doc).
// The request/response wrapper is wrapperspb.BytesValue, a well-known
// protobuf type that needs no generated code, carrying the JSON header +
// pkg/wire-encoded attachment described in the package doc.
func invoke(ctx context.Context, conn grpcInvoker, method string, reqBytes []byte) ([]byte, error) {
	resp := &wrapperspb.BytesValue{}
	if err := conn.Invoke(ctx, method, wrapperspb.Bytes(reqBytes), resp); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}
	return resp.GetValue(), nil
}

// grpcInvoker is the subset of *grpc.ClientConn this package calls,
// narrowed so tests can substitute an in-process fake.
type grpcInvoker interface {
	Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error
}
