// Package chains enumerates the EVM networks the indexer knows about.
package chains

import "fmt"

// Chain is the short, stable name of a supported network. The name is what
// gets persisted, so values here must never change once deployed.
type Chain string

const (
	Sepolia    Chain = "sepolia"
	Mumbai     Chain = "polygon-mumbai"
	BaseGoerli Chain = "base-goerli"
	Polygon    Chain = "polygon"
	Base       Chain = "base"
)

var networkIDs = map[Chain]uint64{
	Sepolia:    11155111,
	Mumbai:     80001,
	BaseGoerli: 84531,
	Polygon:    137,
	Base:       8453,
}

// All lists every supported chain.
func All() []Chain {
	return []Chain{Sepolia, Mumbai, BaseGoerli, Polygon, Base}
}

// NetworkID returns the EIP-155 chain ID for c. Panics on an unknown chain,
// which can only happen through a programming error.
func (c Chain) NetworkID() uint64 {
	id, ok := networkIDs[c]
	if !ok {
		panic(fmt.Sprintf("unknown chain %q", string(c)))
	}
	return id
}

func (c Chain) String() string {
	return string(c)
}

// Parse maps a persisted chain name back to its Chain value.
func Parse(s string) (Chain, error) {
	for _, c := range All() {
		if s == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown chain %q", s)
}
