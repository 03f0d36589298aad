package indexer

import (
	"context"
	"math/big"
	"time"
)

// Hooks for the external test package.

const (
	GasPerPayment    = gasPerPayment
	SecondPaymentGas = secondPaymentGas
)

func (ix *ChainIndexer) SetReceiptTiming(timeout, poll time.Duration) {
	ix.receiptTimeout = timeout
	ix.receiptPoll = poll
}

func (ix *ChainIndexer) SetOracle(o Oracle) {
	ix.oracle = o
}

func (ix *ChainIndexer) SetPriorityFee(wei *big.Int) {
	ix.cfg.PriorityFeeWei = wei
}

func (s *Scheduler) SetTiming(warmup, interval time.Duration) {
	s.warmup = warmup
	s.interval = interval
}

func (s *Scheduler) Tick(ctx context.Context) {
	s.tick(ctx)
}
