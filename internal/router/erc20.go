package router

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 exposes the token reads the indexer needs.
type ERC20 struct {
	Address common.Address
	backend Backend
}

// NewERC20 returns a token bound to the contract at address.
func NewERC20(address common.Address, backend Backend) *ERC20 {
	return &ERC20{Address: address, backend: backend}
}

func (t *ERC20) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s call: %w", method, err)
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, t.Address, err)
	}
	return out, nil
}

// Decimals reads the token's decimals.
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	var decimals uint8
	if err := erc20ABI.UnpackIntoInterface(&decimals, "decimals", out); err != nil {
		return 0, fmt.Errorf("unpacking decimals result: %w", err)
	}
	return decimals, nil
}

// Symbol reads the token's symbol.
func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	out, err := t.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	var symbol string
	if err := erc20ABI.UnpackIntoInterface(&symbol, "symbol", out); err != nil {
		return "", fmt.Errorf("unpacking symbol result: %w", err)
	}
	return symbol, nil
}

// BalanceOf reads the owner's token balance.
func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, fmt.Errorf("unpacking balanceOf result: %w", err)
	}
	return balance, nil
}

// Allowance reads how much spender may transfer on behalf of owner.
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	var allowance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&allowance, "allowance", out); err != nil {
		return nil, fmt.Errorf("unpacking allowance result: %w", err)
	}
	return allowance, nil
}
