package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network describes a chain the contracts are deployed on.
type Network struct {
	Name    string
	ChainID int64
	RPCURL  string
}

// Networks is the static network lookup, keyed by the configured network name.
var Networks = map[string]Network{
	"mainnet": {Name: "celo", ChainID: 42220, RPCURL: "https://forno.celo.org"},
	"testnet": {Name: "alfajores", ChainID: 44787, RPCURL: "https://alfajores-forno.celo-testnet.org"},
}

// LookupNetwork resolves a network by name.
func LookupNetwork(name string) (Network, error) {
	n, ok := Networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q", name)
	}
	return n, nil
}

// Addresses holds the deployed contract addresses for one network.
type Addresses struct {
	DAOToken     common.Address
	Diamond      common.Address
	DynamicSale  common.Address
	PaymentToken common.Address
}

// ParseAddresses validates and converts hex addresses.
func ParseAddresses(daoToken, diamond, dynamicSale, paymentToken string) (Addresses, error) {
	var out Addresses
	fields := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"dao_token", daoToken, &out.DAOToken},
		{"diamond", diamond, &out.Diamond},
		{"dynamic_sale", dynamicSale, &out.DynamicSale},
		{"payment_token", paymentToken, &out.PaymentToken},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if !common.IsHexAddress(raw) {
			return Addresses{}, fmt.Errorf("contract %s: invalid address %q", f.name, f.raw)
		}
		*f.dst = common.HexToAddress(raw)
	}
	return out, nil
}
