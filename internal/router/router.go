// Package router wraps the on-chain subscription router contract: log
// filtering for its lifecycle events, its read-only views and the
// makePayment write path, plus minimal ERC-20 reads.
package router

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of ethclient.Client the indexer talks to. It exists
// so tests can substitute a fake chain.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Router binds a deployed router contract to a Backend.
type Router struct {
	Address common.Address
	backend Backend
}

// New returns a Router bound to the contract at address.
func New(address common.Address, backend Backend) *Router {
	return &Router{Address: address, backend: backend}
}

// ProductView mirrors the tuple returned by the router's products() view.
type ProductView struct {
	Merchant        common.Address
	Token           common.Address
	Amount          *big.Int
	Period          *big.Int
	FreeTrialLength *big.Int
	PaymentPeriod   *big.Int
	Metadata        []byte
}

func (r *Router) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := routerABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s call: %w", method, err)
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return out, nil
}

// Products reads the product parameter tuple stored under productHash.
func (r *Router) Products(ctx context.Context, productHash [32]byte) (*ProductView, error) {
	out, err := r.call(ctx, "products", productHash)
	if err != nil {
		return nil, err
	}
	var view ProductView
	if err := routerABI.UnpackIntoInterface(&view, "products", out); err != nil {
		return nil, fmt.Errorf("unpacking products result: %w", err)
	}
	return &view, nil
}

// MerchantInitiator reads the initiator the merchant has authorized.
func (r *Router) MerchantInitiator(ctx context.Context, merchant common.Address) (common.Address, error) {
	out, err := r.call(ctx, "merchantSettings", merchant)
	if err != nil {
		return common.Address{}, err
	}
	var initiator common.Address
	if err := routerABI.UnpackIntoInterface(&initiator, "merchantSettings", out); err != nil {
		return common.Address{}, fmt.Errorf("unpacking merchantSettings result: %w", err)
	}
	return initiator, nil
}

// MakePaymentCalldata encodes a makePayment(subscriptionHash, compensation)
// call.
func (r *Router) MakePaymentCalldata(subscriptionHash [32]byte, compensation *big.Int) ([]byte, error) {
	data, err := routerABI.Pack("makePayment", subscriptionHash, compensation)
	if err != nil {
		return nil, fmt.Errorf("packing makePayment call: %w", err)
	}
	return data, nil
}

// FilterQuery builds the log filter for one event topic over a block range.
func (r *Router) FilterQuery(fromBlock, toBlock uint64, topic common.Hash) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{r.Address},
		Topics:    [][]common.Hash{{topic}},
	}
}
