package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/models"
	"github.com/paybeaver/beaver-indexer/internal/router"
)

// Fee bumps over the node-reported values, in tenths: the base fee is padded
// by 20% against inclusion-time drift, the tip by 10%.
var (
	baseFeeNumerator = big.NewInt(12)
	tipNumerator     = big.NewInt(11)
	feeDenominator   = big.NewInt(10)
)

// nativeDecimals is the atomic-unit scale of the native currency (wei).
const nativeDecimals = 18

// PayPayableSubscriptions submits one payment transaction per payable
// subscription, sequentially. A receipt timeout freezes the chain: the
// initiator-available flag is set and every future run returns on entry
// until an operator clears it.
func (ix *ChainIndexer) PayPayableSubscriptions(ctx context.Context) error {
	available, err := ix.store.InitiatorAvailable(ctx, ix.chain)
	if err != nil {
		return err
	}
	if !available {
		ix.logger.Error("payment initiator is frozen, operator intervention required")
		return nil
	}

	now := time.Now().Unix()
	subs, err := ix.store.GetPayableSubscriptions(ctx, ix.chain, now, ix.signer.Address().Hex())
	if err != nil {
		return err
	}
	for _, sub := range subs {
		frozen, err := ix.paySubscription(ctx, sub)
		if err != nil {
			return err
		}
		if frozen {
			return nil
		}
	}
	return nil
}

// paySubscription attempts one payment. Per-subscription failures are
// recorded as payment-issue logs and reported as (false, nil) so the loop
// moves on; a receipt timeout reports (true, nil) after latching the chain
// off.
func (ix *ChainIndexer) paySubscription(ctx context.Context, sub *models.Subscription) (frozen bool, err error) {
	paymentNumber := sub.PaymentsMade + 1
	log := ix.logger.With(
		zap.String("subscription_hash", sub.Hash),
		zap.Int64("payment_number", paymentNumber),
	)

	ok, err := ix.checkFunds(ctx, sub, paymentNumber, log)
	if err != nil || !ok {
		return false, err
	}

	tx, err := ix.buildPaymentTx(ctx, sub)
	if err != nil {
		var invariant *InvariantError
		if errors.As(err, &invariant) {
			return false, err
		}
		log.Error("building payment transaction failed", zap.Error(err))
		return false, ix.recordIssue(ctx, sub.Hash, paymentNumber, fmt.Sprintf("building payment transaction failed: %v", err))
	}

	if err := ix.backend.SendTransaction(ctx, tx); err != nil {
		log.Error("submitting payment transaction failed", zap.Error(err))
		return false, ix.recordIssue(ctx, sub.Hash, paymentNumber, fmt.Sprintf("submitting payment transaction failed: %v", err))
	}
	log.Info("submitted payment transaction", zap.String("tx", tx.Hash().Hex()))

	receipt, err := ix.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// The transaction is in flight with an unknown fate. Attempting
		// another payment would reuse or race its nonce, so the chain is
		// latched off until an operator resolves it.
		log.Error("payment transaction not confirmed in time, freezing initiator",
			zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		if err := ix.store.DisableInitiator(ctx, ix.chain); err != nil {
			return true, err
		}
		return true, nil
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Error("payment transaction reverted", zap.String("tx", tx.Hash().Hex()))
		return false, ix.recordIssue(ctx, sub.Hash, paymentNumber, fmt.Sprintf("payment transaction %s reverted", tx.Hash().Hex()))
	}

	confirmed, err := ix.confirmedPaymentNumber(ctx, sub.Hash, receipt)
	if err != nil {
		return false, err
	}
	if err := ix.store.UpdatePaymentsMade(ctx, sub.Hash, confirmed); err != nil {
		return false, err
	}
	if err := ix.store.AddSubscriptionLog(ctx, &models.SubscriptionLog{
		LogType:          models.LogTypePaymentMade,
		SubscriptionHash: sub.Hash,
		PaymentNumber:    confirmed,
		Message:          fmt.Sprintf("payment confirmed in transaction %s", tx.Hash().Hex()),
		Timestamp:        time.Now().Unix(),
	}); err != nil {
		return false, err
	}
	log.Info("payment confirmed", zap.String("tx", tx.Hash().Hex()), zap.Int64("payments_made", confirmed))
	return false, nil
}

func (ix *ChainIndexer) erc20(sub *models.Subscription) *router.ERC20 {
	return router.NewERC20(common.HexToAddress(sub.Product.TokenAddress), ix.backend)
}

// checkFunds verifies the user can cover the billing amount. Shortfalls are
// recorded as payment-issue logs and reported as ok=false.
func (ix *ChainIndexer) checkFunds(ctx context.Context, sub *models.Subscription, paymentNumber int64, log *zap.Logger) (bool, error) {
	token := ix.erc20(sub)
	user := common.HexToAddress(sub.UserAddress)

	balance, err := token.BalanceOf(ctx, user)
	if err != nil {
		log.Warn("reading user balance failed", zap.Error(err))
		return false, nil
	}
	if balance.Cmp(sub.Product.UintAmount) < 0 {
		log.Info("user balance below billing amount, skipping payment")
		return false, ix.recordIssue(ctx, sub.Hash, paymentNumber,
			fmt.Sprintf("user balance %s is below the billing amount %s %s", balance, sub.Product.UintAmount, sub.Product.TokenSymbol))
	}

	allowance, err := token.Allowance(ctx, user, ix.router.Address)
	if err != nil {
		log.Warn("reading user allowance failed", zap.Error(err))
		return false, nil
	}
	if allowance.Cmp(sub.Product.UintAmount) < 0 {
		log.Info("user allowance below billing amount, skipping payment")
		return false, ix.recordIssue(ctx, sub.Hash, paymentNumber,
			fmt.Sprintf("user allowance %s is below the billing amount %s %s", allowance, sub.Product.UintAmount, sub.Product.TokenSymbol))
	}
	return true, nil
}

// buildPaymentTx computes the gas budget, fee caps and token compensation
// and returns the signed makePayment transaction.
func (ix *ChainIndexer) buildPaymentTx(ctx context.Context, sub *models.Subscription) (*types.Transaction, error) {
	paymentNumber := sub.PaymentsMade + 1
	gas := uint64(gasPerPayment)
	if paymentNumber == 2 {
		gas = secondPaymentGas
	}

	header, err := ix.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching head block: %w", err)
	}
	if header.BaseFee == nil {
		return nil, invariantf("head block %d on %s has no base fee", header.Number, ix.chain)
	}
	baseFee := new(big.Int).Div(new(big.Int).Mul(header.BaseFee, baseFeeNumerator), feeDenominator)

	tip := ix.cfg.PriorityFeeWei
	if tip == nil {
		tip, err = ix.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching priority fee: %w", err)
		}
	}
	tip = new(big.Int).Div(new(big.Int).Mul(tip, tipNumerator), feeDenominator)
	maxFee := new(big.Int).Add(baseFee, tip)

	compensation, err := ix.compensation(ctx, sub, gas, maxFee)
	if err != nil {
		return nil, err
	}

	nonce, err := ix.backend.PendingNonceAt(ctx, ix.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("fetching nonce: %w", err)
	}
	calldata, err := ix.router.MakePaymentCalldata(common.HexToHash(sub.Hash), compensation)
	if err != nil {
		return nil, err
	}

	chainID := new(big.Int).SetUint64(ix.chain.NetworkID())
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gas,
		To:        &ix.router.Address,
		Data:      calldata,
	})
	return ix.signer.SignTx(tx, chainID)
}

// compensation converts the worst-case native gas cost into the
// subscription's token, in atomic units rounded down.
func (ix *ChainIndexer) compensation(ctx context.Context, sub *models.Subscription, gas uint64, maxFee *big.Int) (*big.Int, error) {
	price, err := ix.oracle.TokenPerNative(ctx, ix.chain, sub.Product.TokenAddress)
	if err != nil {
		return nil, fmt.Errorf("pricing compensation: %w", err)
	}

	feeWei := new(big.Int).Mul(new(big.Int).SetUint64(gas), maxFee)
	feeNative := decimal.NewFromBigInt(feeWei, -nativeDecimals)
	atomic := feeNative.Mul(price).Shift(sub.Product.TokenDecimals).Floor()
	return atomic.BigInt(), nil
}

// waitForReceipt polls for the transaction receipt until it appears or the
// receipt timeout elapses.
func (ix *ChainIndexer) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(ix.receiptTimeout)
	for {
		receipt, err := ix.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no receipt for %s within %s", txHash.Hex(), ix.receiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ix.receiptPoll):
		}
	}
}

// confirmedPaymentNumber re-reads the PaymentMade logs in the receipt's block
// and returns the payment number of the single log matching the
// subscription. Any other count violates the router's contract.
func (ix *ChainIndexer) confirmedPaymentNumber(ctx context.Context, subscriptionHash string, receipt *types.Receipt) (int64, error) {
	block := receipt.BlockNumber.Uint64()
	logs, err := ix.backend.FilterLogs(ctx, ix.router.FilterQuery(block, block, router.PaymentMadeTopic))
	if err != nil {
		return 0, fmt.Errorf("re-reading payment logs in block %d: %w", block, err)
	}

	var matched []*big.Int
	for _, lg := range logs {
		ev, err := router.ParsePaymentMade(lg)
		if err != nil {
			continue
		}
		if common.Hash(ev.SubscriptionHash).Hex() == subscriptionHash {
			matched = append(matched, ev.PaymentNumber)
		}
	}
	if len(matched) != 1 {
		return 0, invariantf("block %d holds %d PaymentMade logs for subscription %s, want exactly 1",
			block, len(matched), subscriptionHash)
	}
	return matched[0].Int64(), nil
}

func (ix *ChainIndexer) recordIssue(ctx context.Context, subscriptionHash string, paymentNumber int64, message string) error {
	return ix.store.AddSubscriptionLog(ctx, &models.SubscriptionLog{
		LogType:          models.LogTypePaymentIssue,
		SubscriptionHash: subscriptionHash,
		PaymentNumber:    paymentNumber,
		Message:          message,
		Timestamp:        time.Now().Unix(),
	})
}
