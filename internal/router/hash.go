package router

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeProductHash returns the keccak256 of the packed product parameter
// tuple, mirroring the encoding the router contract uses to key products.
// The packing is abi.encodePacked(merchant, token, amount, period,
// freeTrialLength, paymentPeriod, metadata): addresses as 20 bytes, uints as
// 32-byte big-endian words, metadata appended raw.
func ComputeProductHash(merchant, token common.Address, amount, period, freeTrialLength, paymentPeriod *big.Int, metadata []byte) common.Hash {
	buf := make([]byte, 0, 20+20+4*32+len(metadata))
	buf = append(buf, merchant.Bytes()...)
	buf = append(buf, token.Bytes()...)
	buf = append(buf, common.LeftPadBytes(amount.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(period.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(freeTrialLength.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(paymentPeriod.Bytes(), 32)...)
	buf = append(buf, metadata...)
	return crypto.Keccak256Hash(buf)
}
