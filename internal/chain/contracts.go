package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"closer/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// bookingTuple matches the tuple returned by getAccommodationBookings.
type bookingTuple struct {
	Status    uint8    `json:"status"`
	Year      uint16   `json:"year"`
	DayOfYear uint16   `json:"dayOfYear"`
	Price     *big.Int `json:"price"`
	Timestamp *big.Int `json:"timestamp"`
}

// Contracts binds the parsed ABIs to the addresses of one network.
type Contracts struct {
	client    Client
	addresses Addresses

	token   abi.ABI
	diamond abi.ABI
	sale    abi.ABI
}

// NewContracts parses the contract ABIs.
func NewContracts(client Client, addresses Addresses) (*Contracts, error) {
	token, err := abi.JSON(strings.NewReader(DAOTokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	diamond, err := abi.JSON(strings.NewReader(DiamondABI))
	if err != nil {
		return nil, fmt.Errorf("parse diamond abi: %w", err)
	}
	sale, err := abi.JSON(strings.NewReader(DynamicSaleABI))
	if err != nil {
		return nil, fmt.Errorf("parse sale abi: %w", err)
	}
	return &Contracts{client: client, addresses: addresses, token: token, diamond: diamond, sale: sale}, nil
}

func (c *Contracts) Client() Client       { return c.client }
func (c *Contracts) Addresses() Addresses { return c.addresses }

// Signer returns the account transactions are sent from.
func (c *Contracts) Signer() (common.Address, bool) { return c.client.Account() }

func (c *Contracts) readUint(ctx context.Context, address common.Address, contract *abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := c.client.ReadContract(ctx, CallRequest{Address: address, ABI: contract, FunctionName: method, Args: args})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	v, err := asUint256(out[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func (c *Contracts) readAmount(ctx context.Context, address common.Address, contract *abi.ABI, method string, args ...any) (decimal.Decimal, error) {
	v, err := c.readUint(ctx, address, contract, method, args...)
	if err != nil {
		return decimal.Zero, err
	}
	return FromWei(v), nil
}

// GetAccommodationBookings returns the account's bookings for one year.
func (c *Contracts) GetAccommodationBookings(ctx context.Context, account common.Address, year uint16) ([]models.ChainBookingRecord, error) {
	out, err := c.client.ReadContract(ctx, CallRequest{
		Address:      c.addresses.Diamond,
		ABI:          &c.diamond,
		FunctionName: "getAccommodationBookings",
		Args:         []any{account, year},
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	tuples, err := convertBookings(out[0])
	if err != nil {
		return nil, err
	}

	records := make([]models.ChainBookingRecord, 0, len(tuples))
	for _, t := range tuples {
		rec := models.ChainBookingRecord{
			Status:    models.ChainBookingStatus(t.Status),
			Year:      t.Year,
			DayOfYear: t.DayOfYear,
			Price:     FromWei(t.Price),
		}
		if t.Timestamp != nil && t.Timestamp.IsInt64() {
			rec.Timestamp = time.Unix(t.Timestamp.Int64(), 0).UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

func convertBookings(v any) (tuples []bookingTuple, err error) {
	if direct, ok := v.([]bookingTuple); ok {
		return direct, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode bookings: %v", r)
		}
	}()
	converted := abi.ConvertType(v, new([]bookingTuple)).(*[]bookingTuple)
	return *converted, nil
}

// StakedBalanceOf returns the account's total staked tokens.
func (c *Contracts) StakedBalanceOf(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addresses.Diamond, &c.diamond, "stakedBalanceOf", account)
}

// UnlockedStake returns the stake the account may withdraw.
func (c *Contracts) UnlockedStake(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addresses.Diamond, &c.diamond, "unlockedStake", account)
}

// BalanceOf returns the DAO token balance of owner.
func (c *Contracts) BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addresses.DAOToken, &c.token, "balanceOf", owner)
}

// Allowance returns how much spender may pull from owner for token.
func (c *Contracts) Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error) {
	return c.readAmount(ctx, token, &c.token, "allowance", owner, spender)
}

// CalculateTotalCost asks the sale contract for the payment cost of amount tokens.
func (c *Contracts) CalculateTotalCost(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	wei, err := ToWei(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return c.readAmount(ctx, c.addresses.DynamicSale, &c.sale, "calculateTotalCost", wei)
}

func (c *Contracts) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addresses.DynamicSale, &c.sale, "totalSupply")
}

func (c *Contracts) SaleHardCap(ctx context.Context) (decimal.Decimal, error) {
	return c.readAmount(ctx, c.addresses.DynamicSale, &c.sale, "saleHardCap")
}

// Approve lets spender pull amount of token from the signer.
func (c *Contracts) Approve(ctx context.Context, token, spender common.Address, amount decimal.Decimal) (common.Hash, error) {
	wei, err := ToWei(amount)
	if err != nil {
		return common.Hash{}, err
	}
	return c.client.WriteContract(ctx, CallRequest{
		Address:      token,
		ABI:          &c.token,
		FunctionName: "approve",
		Args:         []any{spender, wei},
	})
}

// BookAccommodation stakes for and books the given nights.
func (c *Contracts) BookAccommodation(ctx context.Context, nights []models.BookingNight) (common.Hash, error) {
	return c.client.WriteContract(ctx, CallRequest{
		Address:      c.addresses.Diamond,
		ABI:          &c.diamond,
		FunctionName: "bookAccommodation",
		Args:         []any{models.Tuples(nights)},
	})
}

// Buy purchases amount DAO tokens from the sale contract.
func (c *Contracts) Buy(ctx context.Context, amount decimal.Decimal) (common.Hash, error) {
	wei, err := ToWei(amount)
	if err != nil {
		return common.Hash{}, err
	}
	return c.client.WriteContract(ctx, CallRequest{
		Address:      c.addresses.DynamicSale,
		ABI:          &c.sale,
		FunctionName: "buy",
		Args:         []any{wei},
	})
}
