package storetest

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paybeaver/beaver-indexer/internal/chains"
	"github.com/paybeaver/beaver-indexer/internal/models"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

const (
	merchant  = "0x1111111111111111111111111111111111111111"
	initiator = "0x4444444444444444444444444444444444444444"
)

func seedProduct(t *testing.T, m *Memory) *models.Product {
	t.Helper()
	product := &models.Product{
		Hash:            "0xbb",
		Chain:           chains.Sepolia,
		MerchantAddress: merchant,
		TokenAddress:    "0x2222222222222222222222222222222222222222",
		TokenSymbol:     "USDC",
		TokenDecimals:   6,
		UintAmount:      big.NewInt(1_000_000),
		Period:          100,
		PaymentPeriod:   50,
		MerchantDomain:  "paybeaver.xyz",
		ProductName:     "Pro",
	}
	require.NoError(t, m.AddProduct(context.Background(), product))
	require.NoError(t, m.SetMerchantInitiator(context.Background(), merchant, chains.Sepolia, initiator))
	return product
}

func seedSubscription(t *testing.T, m *Memory, product *models.Product, hash string, startTs int64) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		Hash:        hash,
		Product:     product,
		UserAddress: "0x3333333333333333333333333333333333333333",
		StartTs:     startTs,
	}
	require.NoError(t, m.AddSubscription(context.Background(), sub))
	return sub
}

func TestCursorDefaultsToMinBlock(t *testing.T) {
	ctx := context.Background()
	m := New()

	cursor, err := m.GetCursor(ctx, chains.Sepolia, store.EventKindPayments, 4455613)
	require.NoError(t, err)
	assert.Equal(t, uint64(4455613), cursor)

	require.NoError(t, m.SetCursor(ctx, chains.Sepolia, store.EventKindPayments, 4455700))
	cursor, err = m.GetCursor(ctx, chains.Sepolia, store.EventKindPayments, 4455613)
	require.NoError(t, err)
	assert.Equal(t, uint64(4455700), cursor)

	// A stored cursor below min_block is clamped up.
	require.NoError(t, m.SetCursor(ctx, chains.Sepolia, store.EventKindPayments, 10))
	cursor, err = m.GetCursor(ctx, chains.Sepolia, store.EventKindPayments, 4455613)
	require.NoError(t, err)
	assert.Equal(t, uint64(4455613), cursor)
}

func TestInitiatorFlagLatches(t *testing.T) {
	ctx := context.Background()
	m := New()

	available, err := m.InitiatorAvailable(ctx, chains.Sepolia)
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, m.DisableInitiator(ctx, chains.Sepolia))
	available, err = m.InitiatorAvailable(ctx, chains.Sepolia)
	require.NoError(t, err)
	assert.False(t, available)

	// Other chains are unaffected.
	available, err = m.InitiatorAvailable(ctx, chains.Mumbai)
	require.NoError(t, err)
	assert.True(t, available)
}

func TestAddProductFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	m := New()
	product := seedProduct(t, m)

	replay := *product
	replay.ProductName = "Changed"
	require.NoError(t, m.AddProduct(ctx, &replay))

	got, err := m.GetProductByHash(ctx, product.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Pro", got.ProductName)
}

func TestUpdatePaymentsMadeMaxMerge(t *testing.T) {
	ctx := context.Background()
	m := New()
	product := seedProduct(t, m)
	sub := seedSubscription(t, m, product, "0xaa", 1000)

	require.NoError(t, m.UpdatePaymentsMade(ctx, sub.Hash, 3))
	require.NoError(t, m.UpdatePaymentsMade(ctx, sub.Hash, 2))

	got, err := m.GetSubscriptionByHash(ctx, sub.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.PaymentsMade)
}

func TestTerminateIsOneWay(t *testing.T) {
	ctx := context.Background()
	m := New()
	product := seedProduct(t, m)
	sub := seedSubscription(t, m, product, "0xaa", 1000)

	require.NoError(t, m.TerminateSubscription(ctx, sub.Hash))

	// Replaying the original start event must not resurrect it.
	require.NoError(t, m.AddSubscription(ctx, &models.Subscription{
		Hash: sub.Hash, Product: product, StartTs: 1000,
	}))

	got, err := m.GetSubscriptionByHash(ctx, sub.Hash)
	require.NoError(t, err)
	assert.True(t, got.Terminated)
}

func TestGetPayableSubscriptions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		now     int64
		prepare func(t *testing.T, m *Memory, sub *models.Subscription)
		want    int
	}{
		{
			name: "inside window",
			now:  1030,
			want: 1,
		},
		{
			name: "window not open yet",
			now:  1000,
			want: 0,
		},
		{
			name: "window lapsed",
			now:  1050,
			want: 0,
		},
		{
			name: "terminated excluded",
			now:  1030,
			prepare: func(t *testing.T, m *Memory, sub *models.Subscription) {
				require.NoError(t, m.TerminateSubscription(ctx, sub.Hash))
			},
			want: 0,
		},
		{
			name: "recent payment issue backs off",
			now:  1030,
			prepare: func(t *testing.T, m *Memory, sub *models.Subscription) {
				require.NoError(t, m.AddSubscriptionLog(ctx, &models.SubscriptionLog{
					LogType:          models.LogTypePaymentIssue,
					SubscriptionHash: sub.Hash,
					PaymentNumber:    1,
					Timestamp:        1030 - 3600,
				}))
			},
			want: 0,
		},
		{
			name: "old payment issue does not back off",
			now:  1030,
			prepare: func(t *testing.T, m *Memory, sub *models.Subscription) {
				require.NoError(t, m.AddSubscriptionLog(ctx, &models.SubscriptionLog{
					LogType:          models.LogTypePaymentIssue,
					SubscriptionHash: sub.Hash,
					PaymentNumber:    1,
					Timestamp:        1030 - paymentIssueBackoff,
				}))
			},
			want: 1,
		},
		{
			name: "issue for another payment number ignored",
			now:  1030,
			prepare: func(t *testing.T, m *Memory, sub *models.Subscription) {
				require.NoError(t, m.AddSubscriptionLog(ctx, &models.SubscriptionLog{
					LogType:          models.LogTypePaymentIssue,
					SubscriptionHash: sub.Hash,
					PaymentNumber:    2,
					Timestamp:        1030 - 3600,
				}))
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			product := seedProduct(t, m)
			sub := seedSubscription(t, m, product, "0xaa", 1000)
			if tt.prepare != nil {
				tt.prepare(t, m, sub)
			}

			payable, err := m.GetPayableSubscriptions(ctx, chains.Sepolia, tt.now, initiator)
			require.NoError(t, err)
			assert.Len(t, payable, tt.want)
		})
	}
}

func TestGetPayableSubscriptionsRequiresMatchingInitiator(t *testing.T) {
	ctx := context.Background()
	m := New()
	product := seedProduct(t, m)
	seedSubscription(t, m, product, "0xaa", 1000)

	payable, err := m.GetPayableSubscriptions(ctx, chains.Sepolia, 1030, "0x9999999999999999999999999999999999999999")
	require.NoError(t, err)
	assert.Empty(t, payable)
}

func TestListQueriesSortNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := New()
	product := seedProduct(t, m)
	seedSubscription(t, m, product, "0xa1", 1000)
	seedSubscription(t, m, product, "0xa2", 3000)
	seedSubscription(t, m, product, "0xa3", 2000)

	subs, err := m.GetAllSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "0xa2", subs[0].Hash)
	assert.Equal(t, "0xa3", subs[1].Hash)
	assert.Equal(t, "0xa1", subs[2].Hash)
}

func TestSubscriptionWithoutOptionalIDs(t *testing.T) {
	ctx := context.Background()
	m := New()
	product := seedProduct(t, m)

	// Subscriptions discovered without metadata carry no merchant-assigned
	// IDs. They must store and read back fine and simply never match the
	// ID-based lookups.
	seedSubscription(t, m, product, "0xa1", 1000)

	got, err := m.GetSubscriptionByHash(ctx, "0xa1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.SubscriptionID)
	assert.Nil(t, got.UserID)

	subs, err := m.GetSubscriptionsByMerchantAndUser(ctx, "paybeaver.xyz", "user-1")
	require.NoError(t, err)
	assert.Empty(t, subs)

	byID, err := m.GetSubscriptionByMerchantAndSubscriptionID(ctx, "paybeaver.xyz", "sub-1")
	require.NoError(t, err)
	assert.Nil(t, byID)
}

func TestGetSubscriptionByMerchantAndSubscriptionID(t *testing.T) {
	ctx := context.Background()
	m := New()
	product := seedProduct(t, m)

	id := "sub-1"
	first := &models.Subscription{Hash: "0xa1", Product: product, StartTs: 1000, SubscriptionID: &id}
	second := &models.Subscription{Hash: "0xa2", Product: product, StartTs: 2000, SubscriptionID: &id}
	require.NoError(t, m.AddSubscription(ctx, first))
	require.NoError(t, m.AddSubscription(ctx, second))

	got, err := m.GetSubscriptionByMerchantAndSubscriptionID(ctx, "paybeaver.xyz", id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0xa1", got.Hash)

	got, err = m.GetSubscriptionByMerchantAndSubscriptionID(ctx, "other.xyz", id)
	require.NoError(t, err)
	assert.Nil(t, got)
}
