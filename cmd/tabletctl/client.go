package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	tabletclient "github.com/fluxtable/tabletclient/pkg/client"
	"github.com/fluxtable/tabletclient/pkg/celldirectory"
	"github.com/fluxtable/tabletclient/pkg/rpc"
)

// buildClient wires a pkg/client.Client from the root command's
// persistent flags: dial master and coordinator, install the configured
// topology, and hand out a dialer that pools tablet-cell connections the
// same way (spec §4.I "Client owns dialing").
func buildClient(cmd *cobra.Command) (*tabletclient.Client, func(), error) {
	masterAddr, _ := cmd.Flags().GetString("master-addr")
	coordinatorAddr, _ := cmd.Flags().GetString("coordinator-addr")
	configPath, _ := cmd.Flags().GetString("config")
	topologyPath, _ := cmd.Flags().GetString("topology")

	cfg, err := loadClientConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	masterConn, err := rpc.Dial(rpc.DialOptions{Address: masterAddr})
	if err != nil {
		return nil, nil, fmt.Errorf("dial master %s: %w", masterAddr, err)
	}
	coordinatorConn, err := rpc.Dial(rpc.DialOptions{Address: coordinatorAddr})
	if err != nil {
		masterConn.Close()
		return nil, nil, fmt.Errorf("dial coordinator %s: %w", coordinatorAddr, err)
	}

	directory := celldirectory.New(cfg.BackupRequestDelay)
	if err := loadTopology(topologyPath, directory); err != nil {
		masterConn.Close()
		coordinatorConn.Close()
		return nil, nil, err
	}

	tabletConns := make(map[string]*grpc.ClientConn)
	dialer := func(address string) (rpc.TabletServiceClient, error) {
		if conn, ok := tabletConns[address]; ok {
			return rpc.NewGRPCTabletServiceClient(conn), nil
		}
		conn, err := rpc.Dial(rpc.DialOptions{Address: address})
		if err != nil {
			return nil, fmt.Errorf("dial tablet peer %s: %w", address, err)
		}
		tabletConns[address] = conn
		return rpc.NewGRPCTabletServiceClient(conn), nil
	}

	c := tabletclient.New(tabletclient.Deps{
		Master:      rpc.NewGRPCMasterClient(masterConn),
		Coordinator: rpc.NewGRPCCoordinatorClient(coordinatorConn),
		Directory:   directory,
		Dialer:      dialer,
		Config:      cfg,
	})

	closeFn := func() {
		masterConn.Close()
		coordinatorConn.Close()
		for _, conn := range tabletConns {
			conn.Close()
		}
	}
	return c, closeFn, nil
}
