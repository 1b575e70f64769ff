// Package network lists the node networks litkit knows how to reach.
package network

import (
	"fmt"
	"sort"
)

const (
	DatilDev  = "datil-dev"
	DatilTest = "datil-test"
	Datil     = "datil"

	// ChronicleYellowstoneRPC is the public RPC of the chain the registry contracts live on
	ChronicleYellowstoneRPC     = "https://yellowstone-rpc.litprotocol.com"
	ChronicleYellowstoneChainID = 175188
)

// Preset holds the chain settings shared by every deployment of a network.
// Node URLs and contract addresses come from configuration.
type Preset struct {
	Name    string
	RPCURL  string
	ChainID int64
}

var presets = map[string]Preset{
	DatilDev:  {Name: DatilDev, RPCURL: ChronicleYellowstoneRPC, ChainID: ChronicleYellowstoneChainID},
	DatilTest: {Name: DatilTest, RPCURL: ChronicleYellowstoneRPC, ChainID: ChronicleYellowstoneChainID},
	Datil:     {Name: Datil, RPCURL: ChronicleYellowstoneRPC, ChainID: ChronicleYellowstoneChainID},
}

// Lookup returns the preset called name
func Lookup(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown network %q (known: %v)", name, Names())
	}
	return p, nil
}

// Names returns the known network names, sorted
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
