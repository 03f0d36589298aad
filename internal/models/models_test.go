package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paybeaver/beaver-indexer/internal/chains"
)

func testProduct() *Product {
	return &Product{
		Hash:            "0xbb",
		Chain:           chains.Sepolia,
		MerchantAddress: "0x1111111111111111111111111111111111111111",
		TokenAddress:    "0x2222222222222222222222222222222222222222",
		TokenSymbol:     "USDC",
		TokenDecimals:   6,
		UintAmount:      big.NewInt(1_000_000),
		Period:          100,
		PaymentPeriod:   50,
	}
}

func TestSubscriptionNextPaymentAt(t *testing.T) {
	sub := &Subscription{Product: testProduct(), StartTs: 1000}

	assert.Equal(t, int64(1000), sub.NextPaymentAt())

	sub.PaymentsMade = 3
	assert.Equal(t, int64(1300), sub.NextPaymentAt())
}

func TestSubscriptionStatus(t *testing.T) {
	tests := []struct {
		name         string
		paymentsMade int64
		terminated   bool
		now          int64
		want         string
	}{
		{
			name: "before first billing window opens",
			now:  999,
			want: StatusPaid,
		},
		{
			name: "inside billing window",
			now:  1030,
			want: StatusPending,
		},
		{
			name: "window lapsed without payment",
			now:  1051,
			want: StatusExpired,
		},
		{
			name:         "paid through current cycle",
			paymentsMade: 1,
			now:          1060,
			want:         StatusPaid,
		},
		{
			name:       "terminated wins over everything",
			terminated: true,
			now:        1030,
			want:       StatusTerminated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{
				Product:      testProduct(),
				StartTs:      1000,
				PaymentsMade: tt.paymentsMade,
				Terminated:   tt.terminated,
			}
			assert.Equal(t, tt.want, sub.Status(tt.now))
		})
	}
}

func TestSubscriptionIsActive(t *testing.T) {
	sub := &Subscription{Product: testProduct(), StartTs: 1000, PaymentsMade: 1}

	// Active until next_payment_at + payment_period = 1100 + 50.
	assert.True(t, sub.IsActive(1100))
	assert.True(t, sub.IsActive(1150))
	assert.False(t, sub.IsActive(1151))
}

func TestProductHumanAmount(t *testing.T) {
	p := testProduct()
	assert.Equal(t, 1.0, p.HumanAmount())

	p.UintAmount = big.NewInt(2_500_000)
	assert.Equal(t, 2.5, p.HumanAmount())

	p.UintAmount = nil
	assert.Equal(t, 0.0, p.HumanAmount())
}

func TestSubscriptionToResponseDerivedFields(t *testing.T) {
	sub := &Subscription{
		Hash:         "0xaa",
		Product:      testProduct(),
		UserAddress:  "0x3333333333333333333333333333333333333333",
		StartTs:      1000,
		PaymentsMade: 1,
	}

	resp := sub.ToResponse(1120)
	assert.Equal(t, "0xaa", resp.SubscriptionHash)
	assert.Equal(t, StatusPending, resp.Status)
	assert.True(t, resp.IsActive)
	assert.Equal(t, int64(1100), resp.NextPaymentAt)
	assert.Equal(t, "1000000", resp.Product.UintAmount)
	assert.Equal(t, 1.0, resp.Product.HumanAmount)
}
