package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fluxtable/tabletclient/pkg/types"
	"google.golang.org/grpc"
)

const (
	methodGetBasicAttributes = "/ytcore.Master/GetBasicAttributes"
	methodGetMountInfo       = "/ytcore.Master/GetMountInfo"
)

// GRPCMasterClient implements MasterClient over a dialed gRPC connection
// to whichever master cell currently hosts the requested path (spec §4.C
// phase 1) or table (phase 2).
type GRPCMasterClient struct {
	conn *grpc.ClientConn
}

// NewGRPCMasterClient wraps an already-dialed connection.
func NewGRPCMasterClient(conn *grpc.ClientConn) *GRPCMasterClient {
	return &GRPCMasterClient{conn: conn}
}

type basicAttributesRequest struct {
	Path            string
	RefreshRevision int64
}

func (c *GRPCMasterClient) GetBasicAttributes(ctx context.Context, path string, refreshRevision int64) (BasicTableAttributes, error) {
	req, err := json.Marshal(basicAttributesRequest{Path: path, RefreshRevision: refreshRevision})
	if err != nil {
		return BasicTableAttributes{}, fmt.Errorf("marshal request: %w", err)
	}
	respBytes, err := invoke(ctx, c.conn, methodGetBasicAttributes, req)
	if err != nil {
		return BasicTableAttributes{}, err
	}
	var attrs BasicTableAttributes
	if err := json.Unmarshal(respBytes, &attrs); err != nil {
		return BasicTableAttributes{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return attrs, nil
}

type mountInfoRequest struct {
	TableID         types.TableID
	RefreshRevision int64
}

func (c *GRPCMasterClient) GetMountInfo(ctx context.Context, tableID types.TableID, refreshRevision int64) (*types.TableMountInfo, error) {
	req, err := json.Marshal(mountInfoRequest{TableID: tableID, RefreshRevision: refreshRevision})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	respBytes, err := invoke(ctx, c.conn, methodGetMountInfo, req)
	if err != nil {
		return nil, err
	}
	var info types.TableMountInfo
	if err := json.Unmarshal(respBytes, &info); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &info, nil
}
