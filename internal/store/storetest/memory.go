// Package storetest provides an in-memory store.Store with the same
// semantics as the Postgres implementation, for use in tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/paybeaver/beaver-indexer/internal/chains"
	"github.com/paybeaver/beaver-indexer/internal/models"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

const paymentIssueBackoff = 24 * 60 * 60

// Memory is an in-memory store.Store.
type Memory struct {
	mu sync.Mutex

	products      map[string]*models.Product
	subscriptions map[string]*models.Subscription
	merchants     map[string]string // "<chain>/<address>" -> initiator
	logs          []*models.SubscriptionLog
	metadata      map[string]string // cid -> content
	settings      map[string]string

	nextLogID int64
}

var _ store.Store = (*Memory)(nil)

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{
		products:      make(map[string]*models.Product),
		subscriptions: make(map[string]*models.Subscription),
		merchants:     make(map[string]string),
		metadata:      make(map[string]string),
		settings:      make(map[string]string),
		nextLogID:     1,
	}
}

func cursorName(chain chains.Chain, kind store.EventKind) string {
	return fmt.Sprintf("%s_last_checked_%s_block", chain, kind)
}

func initiatorName(chain chains.Chain) string {
	return fmt.Sprintf("%s_initiator_available", chain)
}

func merchantKey(chain chains.Chain, address string) string {
	return string(chain) + "/" + address
}

func (m *Memory) GetCursor(_ context.Context, chain chains.Chain, kind store.EventKind, minBlock uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.settings[cursorName(chain, kind)]
	if !ok {
		return minBlock, nil
	}
	var stored uint64
	fmt.Sscanf(value, "%d", &stored)
	if stored < minBlock {
		return minBlock, nil
	}
	return stored, nil
}

func (m *Memory) SetCursor(_ context.Context, chain chains.Chain, kind store.EventKind, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[cursorName(chain, kind)] = fmt.Sprintf("%d", block)
	return nil
}

func (m *Memory) InitiatorAvailable(_ context.Context, chain chains.Chain) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.settings[initiatorName(chain)]
	return !ok, nil
}

func (m *Memory) DisableInitiator(_ context.Context, chain chains.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[initiatorName(chain)] = "stuck"
	return nil
}

func (m *Memory) AddProduct(_ context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[product.Hash]; ok {
		return nil
	}
	clone := *product
	m.products[product.Hash] = &clone
	return nil
}

func (m *Memory) GetProductByHash(_ context.Context, productHash string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productHash]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (m *Memory) AddSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.Hash]; ok {
		return nil
	}
	clone := *sub
	m.subscriptions[sub.Hash] = &clone
	return nil
}

func (m *Memory) UpdatePaymentsMade(_ context.Context, subscriptionHash string, paymentsMade int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionHash]; ok && paymentsMade > sub.PaymentsMade {
		sub.PaymentsMade = paymentsMade
	}
	return nil
}

func (m *Memory) TerminateSubscription(_ context.Context, subscriptionHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionHash]; ok {
		sub.Terminated = true
	}
	return nil
}

func (m *Memory) hydrate(sub *models.Subscription) *models.Subscription {
	clone := *sub
	if p, ok := m.products[sub.Product.Hash]; ok {
		product := *p
		clone.Product = &product
	}
	return &clone
}

func (m *Memory) GetSubscriptionByHash(_ context.Context, subscriptionHash string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subscriptionHash]
	if !ok {
		return nil, nil
	}
	return m.hydrate(sub), nil
}

func (m *Memory) collect(match func(*models.Subscription) bool) []*models.Subscription {
	var subs []*models.Subscription
	for _, sub := range m.subscriptions {
		if match(sub) {
			subs = append(subs, m.hydrate(sub))
		}
	}
	sortByStartDesc(subs)
	return subs
}

func sortByStartDesc(subs []*models.Subscription) {
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j].StartTs > subs[j-1].StartTs; j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
}

func (m *Memory) GetAllSubscriptions(_ context.Context) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(*models.Subscription) bool { return true }), nil
}

func (m *Memory) GetSubscriptionsByUser(_ context.Context, userAddress string) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(s *models.Subscription) bool { return s.UserAddress == userAddress }), nil
}

func (m *Memory) GetSubscriptionsByMerchant(_ context.Context, merchantDomain string) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(s *models.Subscription) bool {
		p := m.products[s.Product.Hash]
		return p != nil && p.MerchantDomain == merchantDomain
	}), nil
}

func (m *Memory) GetSubscriptionsByMerchantAndUser(_ context.Context, merchantDomain, userID string) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(s *models.Subscription) bool {
		p := m.products[s.Product.Hash]
		return p != nil && p.MerchantDomain == merchantDomain &&
			s.UserID != nil && *s.UserID == userID
	}), nil
}

func (m *Memory) GetSubscriptionByMerchantAndSubscriptionID(_ context.Context, merchantDomain, subscriptionID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.collect(func(s *models.Subscription) bool {
		p := m.products[s.Product.Hash]
		return p != nil && p.MerchantDomain == merchantDomain &&
			s.SubscriptionID != nil && *s.SubscriptionID == subscriptionID
	})
	if len(subs) == 0 {
		return nil, nil
	}
	// Earliest start wins, matching the SQL implementation.
	return subs[len(subs)-1], nil
}

func (m *Memory) GetPayableSubscriptions(_ context.Context, chain chains.Chain, now int64, initiator string) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(s *models.Subscription) bool {
		p := m.products[s.Product.Hash]
		if p == nil || p.Chain != chain || s.Terminated {
			return false
		}
		if m.merchants[merchantKey(chain, p.MerchantAddress)] != initiator {
			return false
		}
		windowOpen := s.StartTs + p.Period*s.PaymentsMade
		if now <= windowOpen || now >= windowOpen+p.PaymentPeriod {
			return false
		}
		for _, l := range m.logs {
			if l.SubscriptionHash == s.Hash &&
				l.LogType == models.LogTypePaymentIssue &&
				l.PaymentNumber == s.PaymentsMade+1 &&
				l.Timestamp > now-paymentIssueBackoff {
				return false
			}
		}
		return true
	}), nil
}

func (m *Memory) SetMerchantInitiator(_ context.Context, merchantAddress string, chain chains.Chain, initiator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merchants[merchantKey(chain, merchantAddress)] = initiator
	return nil
}

func (m *Memory) GetMerchantInitiator(_ context.Context, merchantAddress string, chain chains.Chain) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merchants[merchantKey(chain, merchantAddress)], nil
}

func (m *Memory) AddSubscriptionLog(_ context.Context, log *models.SubscriptionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *log
	clone.ID = m.nextLogID
	m.nextLogID++
	m.logs = append(m.logs, &clone)
	return nil
}

func (m *Memory) GetSubscriptionLogs(_ context.Context, subscriptionHash string) ([]*models.SubscriptionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var logs []*models.SubscriptionLog
	for _, l := range m.logs {
		if l.SubscriptionHash == subscriptionHash {
			clone := *l
			logs = append(logs, &clone)
		}
	}
	return logs, nil
}

func (m *Memory) StoreMetadata(_ context.Context, ipfsCID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.metadata[ipfsCID]; !ok {
		m.metadata[ipfsCID] = content
	}
	return nil
}

func (m *Memory) GetMetadataByCID(_ context.Context, ipfsCID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.metadata[ipfsCID]
	return content, ok, nil
}

func (m *Memory) GetMetadataCIDByContent(_ context.Context, content string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cid, c := range m.metadata {
		if c == content {
			return cid, true, nil
		}
	}
	return "", false, nil
}
