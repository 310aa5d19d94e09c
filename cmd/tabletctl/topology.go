package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fluxtable/tabletclient/pkg/celldirectory"
	"github.com/fluxtable/tabletclient/pkg/clientconfig"
	"github.com/fluxtable/tabletclient/pkg/types"
)

// topologyConfig is the static cell -> peer map tabletctl installs into
// its celldirectory.Directory at startup. A deployed client would learn
// this from the cluster's own topology service; this CLI takes it as a
// file since no such service is in scope here.
type topologyConfig struct {
	Cells []cellConfig `yaml:"cells"`
}

type cellConfig struct {
	ID    string       `yaml:"id"`
	Peers []peerConfig `yaml:"peers"`
}

type peerConfig struct {
	Address string `yaml:"address"`
	Role    string `yaml:"role"` // "leader" or "follower"
	Voting  bool   `yaml:"voting"`
}

func loadTopology(path string, directory *celldirectory.Directory) error {
	if path == "" {
		return fmt.Errorf("--topology is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read topology %s: %w", path, err)
	}
	var cfg topologyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse topology %s: %w", path, err)
	}
	for _, cell := range cfg.Cells {
		id, err := uuid.Parse(cell.ID)
		if err != nil {
			return fmt.Errorf("topology cell %s: %w", cell.ID, err)
		}
		desc := celldirectory.CellDescriptor{CellID: types.CellID(id)}
		for _, p := range cell.Peers {
			role := celldirectory.RoleFollower
			if p.Role == "leader" {
				role = celldirectory.RoleLeader
			}
			desc.Peers = append(desc.Peers, celldirectory.Peer{Address: p.Address, Role: role, Voting: p.Voting})
		}
		directory.Install(desc)
	}
	return nil
}

func loadClientConfig(path string) (clientconfig.Config, error) {
	if path == "" {
		return clientconfig.Default(), nil
	}
	return clientconfig.Load(path)
}
