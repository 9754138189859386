// Package session carries the caller's wallet and platform account into
// chain operations and decides whether a mutating call may proceed.
package session

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ReasonWalletNotConnected = "wallet not connected"
	ReasonWrongNetwork       = "wrong network"
	ReasonWalletNotLinked    = "wallet not linked to account"
)

// Wallet is the connected wallet as reported by the caller.
type Wallet struct {
	Connected bool   `json:"connected"`
	ChainID   int64  `json:"chain_id"`
	Account   string `json:"account"`
}

// User is the authenticated platform account.
type User struct {
	ID           string `json:"id"`
	SavedAddress string `json:"saved_address"`
}

// Session is the per-call context of a chain operation.
type Session struct {
	Wallet Wallet `json:"wallet"`
	User   User   `json:"user"`
}

// Check returns an empty string when the session may transact on
// expectedChainID, otherwise the reason it may not.
func (s Session) Check(expectedChainID int64) string {
	if !s.Wallet.Connected || !common.IsHexAddress(s.Wallet.Account) {
		return ReasonWalletNotConnected
	}
	if s.Wallet.ChainID != expectedChainID {
		return ReasonWrongNetwork
	}
	if !sameAddress(s.Wallet.Account, s.User.SavedAddress) {
		return ReasonWalletNotLinked
	}
	return ""
}

// Address returns the wallet account as a checksummed address.
func (s Session) Address() common.Address {
	return common.HexToAddress(s.Wallet.Account)
}

func sameAddress(a, b string) bool {
	if !common.IsHexAddress(b) {
		return false
	}
	return strings.EqualFold(common.HexToAddress(a).Hex(), common.HexToAddress(b).Hex())
}
