package zeroex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ContractAddresses groups the deployed 0x contracts a coordinator talks to
// on one chain.
type ContractAddresses struct {
	Exchange            common.Address `json:"exchange"`
	Coordinator         common.Address `json:"coordinator"`
	CoordinatorRegistry common.Address `json:"coordinatorRegistry"`
	DevUtils            common.Address `json:"devUtils"`
}

// AddressesForChainID returns the canonical v3 deployment for chains that
// have one. Chains without an entry here need explicit addresses in the
// server configuration.
func AddressesForChainID(chainID int64) (ContractAddresses, error) {
	switch chainID {
	case 1:
		return ContractAddresses{
			Exchange:            common.HexToAddress("0x61935cbdd02287b511119ddb11aeb42f1593b7ef"),
			Coordinator:         common.HexToAddress("0x38a795580d0f687706a8cabbde2f692f08801d48"),
			CoordinatorRegistry: common.HexToAddress("0x45797531b873fd5e519477a070a955764c1a5b07"),
			DevUtils:            common.HexToAddress("0x74134cf88b21383713e096a5ecf59e297dc7f547"),
		}, nil
	case 1337:
		// The ganache snapshot used across 0x tooling.
		return ContractAddresses{
			Exchange:            common.HexToAddress("0x48bacb9266a570d521063ef5dd96e61686dbe788"),
			Coordinator:         common.HexToAddress("0x4d3d5c850dd5bd9d6f4adda3dd039a3c8054ca29"),
			CoordinatorRegistry: common.HexToAddress("0xaa86dda78e9434aca114b6676fc742a18d15a1cc"),
			DevUtils:            common.HexToAddress("0x38ef19fdf8e8415f18c307ed71967e19aac28ba1"),
		}, nil
	default:
		return ContractAddresses{}, fmt.Errorf("no default contract addresses for chain id %d", chainID)
	}
}
