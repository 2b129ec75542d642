// Package config holds the static, per-deployment configuration for the
// venues the proxy trades against: which contract each venue targets, its
// gas limit, and (for builder-targeted venues) the relay URLs a bundle is
// sent to.
package config

// VenueConfig describes one execution venue's on-chain target and submission
// mechanics.
type VenueConfig struct {
	Name               string
	ContractAddress    string
	GasLimit           uint64
	BuilderTargeted    bool
	BuilderRelayURLs   []string // only consulted when BuilderTargeted is true
}

// DefaultVenues contains the venues the proxy knows, keyed by venue name.
// The web3.venues setting selects which of them are enabled.
var DefaultVenues = map[string]VenueConfig{
	"uniswap_v3": {
		Name:            "uniswap_v3",
		ContractAddress: "0xE592427A0AEce92De3Edee1F18E0157C05861564",
		GasLimit:        350000,
	},
}

// AvailableNetworks maps the chain shortnames the proxy accepts to their
// chain IDs. The RPC endpoint is always configured explicitly.
var AvailableNetworks = map[string]uint64{
	"mainnet": 1,
	"sepolia": 11155111,
}
