package session

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

const account = "0x00000000000000000000000000000000000000aB"

func TestSessionCheck(t *testing.T) {
	linked := Session{
		Wallet: Wallet{Connected: true, ChainID: 44787, Account: account},
		User:   User{ID: "u1", SavedAddress: "0x00000000000000000000000000000000000000ab"},
	}

	tests := []struct {
		name   string
		sess   Session
		expect string
	}{
		{"Usable", linked, ""},
		{"Disconnected", Session{}, ReasonWalletNotConnected},
		{"BadAccount", Session{Wallet: Wallet{Connected: true, ChainID: 44787, Account: "nope"}}, ReasonWalletNotConnected},
		{"WrongNetwork", Session{Wallet: Wallet{Connected: true, ChainID: 1, Account: account}, User: linked.User}, ReasonWrongNetwork},
		{"NotLinked", Session{Wallet: linked.Wallet, User: User{ID: "u1"}}, ReasonWalletNotLinked},
		{"OtherAddress", Session{Wallet: linked.Wallet, User: User{SavedAddress: "0x00000000000000000000000000000000000000cd"}}, ReasonWalletNotLinked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.sess.Check(44787))
		})
	}
}

func TestSessionAddress(t *testing.T) {
	s := Session{Wallet: Wallet{Connected: true, ChainID: 44787, Account: account}}
	assert.Equal(t, ReasonWalletNotLinked, s.Check(44787))
	assert.Equal(t, common.HexToAddress("0xab"), s.Address())
}
