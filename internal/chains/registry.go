// Package chains resolves x402 network identifiers to EVM chain ids. The
// signing domain needs a concrete chain id, so any network that is not
// resolvable here is unusable regardless of policy.
package chains

import (
	"sort"
	"strings"
	"sync"
)

// builtin covers the networks the x402 ecosystem settles on today. A
// definitions file can extend or override these.
var builtin = map[string]int64{
	"base":           8453,
	"base-sepolia":   84532,
	"avalanche":      43114,
	"avalanche-fuji": 43113,
	"polygon":        137,
	"polygon-amoy":   80002,
	"sei":            1329,
	"sei-testnet":    1328,
	"iotex":          4689,
}

// Registry maps human readable network names to chain ids.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]int64
}

// NewRegistry builds a registry seeded with the built-in networks.
func NewRegistry() *Registry {
	chains := make(map[string]int64, len(builtin))
	for name, id := range builtin {
		chains[name] = id
	}
	return &Registry{chains: chains}
}

// NewRegistryFromFile loads a definitions file on top of the built-ins.
// An empty path yields the built-in set.
func NewRegistryFromFile(path string) (*Registry, error) {
	reg := NewRegistry()
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	for name, def := range defs.Networks {
		reg.Register(name, def.ChainID)
	}
	return reg, nil
}

// Register adds or overrides a network. Names are case-insensitive.
func (r *Registry) Register(name string, chainID int64) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || chainID <= 0 {
		return
	}
	r.mu.Lock()
	r.chains[name] = chainID
	r.mu.Unlock()
}

// ChainID resolves a network name. The second return reports whether the
// network is known.
func (r *Registry) ChainID(network string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.chains[strings.ToLower(strings.TrimSpace(network))]
	return id, ok
}

// Known reports whether a network resolves to a chain id.
func (r *Registry) Known(network string) bool {
	_, ok := r.ChainID(network)
	return ok
}

// Names returns the registered network names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
