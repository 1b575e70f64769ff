package core

// NetworkConfig identifies a node network and the nodes to bootstrap from
type NetworkConfig struct {
	Name         string
	NodeURLs     []string
	MinNodeCount int
}

// RequiredNodes returns how many handshakes a connection needs: MinNodeCount
// when set, otherwise a strict majority of the bootstrap nodes.
func (n NetworkConfig) RequiredNodes() int {
	if n.MinNodeCount > 0 {
		return n.MinNodeCount
	}
	return len(n.NodeURLs)/2 + 1
}
