package store

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/chains"
	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// paymentIssueBackoff is how long a subscription is kept out of the payable
// set after a failed payment attempt on the same cycle.
const paymentIssueBackoff = 24 * 60 * 60

// Postgres is the pgx-backed Store. The indexer is the single writer, so all
// statements are serialized through one pooled connection guarded by a
// process-wide mutex.
type Postgres struct {
	pool   *pgxpool.Pool
	mu     sync.Mutex
	logger *zap.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database and bootstraps the schema when no user
// tables exist yet.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Postgres{pool: pool, logger: logger.Log}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tables int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`).Scan(&tables)
	if err != nil {
		return fmt.Errorf("checking for existing tables: %w", err)
	}
	if tables > 0 {
		return nil
	}

	s.logger.Info("empty database, applying schema")
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// --- Cursors and the initiator flag ---

func cursorSettingName(chain chains.Chain, kind EventKind) string {
	return fmt.Sprintf("%s_last_checked_%s_block", chain, kind)
}

func initiatorSettingName(chain chains.Chain) string {
	return fmt.Sprintf("%s_initiator_available", chain)
}

func (s *Postgres) getSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM setting WHERE name = $1`, name).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", name, err)
	}
	return value, true, nil
}

func (s *Postgres) setSetting(ctx context.Context, name, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO setting (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, name, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", name, err)
	}
	return nil
}

// GetCursor returns the last fully scanned block for (chain, kind), never
// less than minBlock.
func (s *Postgres) GetCursor(ctx context.Context, chain chains.Chain, kind EventKind, minBlock uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok, err := s.getSetting(ctx, cursorSettingName(chain, kind))
	if err != nil || !ok {
		return minBlock, err
	}
	stored, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor %s=%q: %w", cursorSettingName(chain, kind), value, err)
	}
	if stored < minBlock {
		return minBlock, nil
	}
	return stored, nil
}

// SetCursor records block as the last fully scanned block for (chain, kind).
func (s *Postgres) SetCursor(ctx context.Context, chain chains.Chain, kind EventKind, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSetting(ctx, cursorSettingName(chain, kind), strconv.FormatUint(block, 10))
}

// InitiatorAvailable reports whether the payment initiator for the chain is
// healthy. The flag being present at all means the initiator is stuck.
func (s *Postgres) InitiatorAvailable(ctx context.Context, chain chains.Chain) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.getSetting(ctx, initiatorSettingName(chain))
	return !ok, err
}

// DisableInitiator freezes the payment initiator for the chain until an
// operator removes the setting row.
func (s *Postgres) DisableInitiator(ctx context.Context, chain chains.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSetting(ctx, initiatorSettingName(chain), "stuck")
}

// --- Products ---

// AddProduct inserts the product; an existing row with the same hash wins.
func (s *Postgres) AddProduct(ctx context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO product (
			hash, chain, merchant_address, token_address, token_symbol,
			token_decimals, uint_amount, period, free_trial_length,
			payment_period, metadata_cid, merchant_domain, product_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (hash) DO NOTHING`,
		product.Hash, product.Chain.String(), product.MerchantAddress,
		product.TokenAddress, product.TokenSymbol, product.TokenDecimals,
		product.UintAmount.String(), product.Period, product.FreeTrialLength,
		product.PaymentPeriod, product.MetadataCID, product.MerchantDomain,
		product.ProductName)
	if err != nil {
		return fmt.Errorf("inserting product %s: %w", product.Hash, err)
	}
	return nil
}

const productColumns = `hash, chain, merchant_address, token_address, token_symbol,
	token_decimals, uint_amount::text, period, free_trial_length, payment_period,
	metadata_cid, merchant_domain, product_name`

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	var chainName, amount string
	err := row.Scan(&p.Hash, &chainName, &p.MerchantAddress, &p.TokenAddress,
		&p.TokenSymbol, &p.TokenDecimals, &amount, &p.Period,
		&p.FreeTrialLength, &p.PaymentPeriod, &p.MetadataCID,
		&p.MerchantDomain, &p.ProductName)
	if err != nil {
		return nil, err
	}
	chain, err := chains.Parse(chainName)
	if err != nil {
		return nil, err
	}
	p.Chain = chain
	p.UintAmount, _ = new(big.Int).SetString(amount, 10)
	if p.UintAmount == nil {
		return nil, fmt.Errorf("corrupt uint_amount %q for product %s", amount, p.Hash)
	}
	return &p, nil
}

// GetProductByHash returns the product or nil when unknown.
func (s *Postgres) GetProductByHash(ctx context.Context, productHash string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM product WHERE hash = $1`, productHash)
	product, err := scanProduct(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading product %s: %w", productHash, err)
	}
	return product, nil
}

// --- Subscriptions ---

// AddSubscription inserts the subscription; an existing row with the same
// hash wins.
func (s *Postgres) AddSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription (
			hash, product_hash, user_address, start_ts, payments_made,
			terminated, metadata_cid, subscription_id, user_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO NOTHING`,
		sub.Hash, sub.Product.Hash, sub.UserAddress, sub.StartTs,
		sub.PaymentsMade, sub.Terminated, sub.MetadataCID,
		sub.SubscriptionID, sub.UserID)
	if err != nil {
		return fmt.Errorf("inserting subscription %s: %w", sub.Hash, err)
	}
	return nil
}

// UpdatePaymentsMade raises payments_made to paymentsMade if it is higher
// than the stored value. Lower or equal observations are no-ops, which makes
// replayed event slices harmless.
func (s *Postgres) UpdatePaymentsMade(ctx context.Context, subscriptionHash string, paymentsMade int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`UPDATE subscription SET payments_made = GREATEST(payments_made, $1) WHERE hash = $2`,
		paymentsMade, subscriptionHash)
	if err != nil {
		return fmt.Errorf("updating payments_made for %s: %w", subscriptionHash, err)
	}
	return nil
}

// TerminateSubscription latches the subscription terminated. There is no way
// back.
func (s *Postgres) TerminateSubscription(ctx context.Context, subscriptionHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`UPDATE subscription SET terminated = TRUE WHERE hash = $1`, subscriptionHash)
	if err != nil {
		return fmt.Errorf("terminating subscription %s: %w", subscriptionHash, err)
	}
	return nil
}

const subscriptionColumns = `s.hash, s.user_address, s.start_ts, s.payments_made,
	s.terminated, s.metadata_cid, s.subscription_id, s.user_id,
	p.hash, p.chain, p.merchant_address, p.token_address, p.token_symbol,
	p.token_decimals, p.uint_amount::text, p.period, p.free_trial_length,
	p.payment_period, p.metadata_cid, p.merchant_domain, p.product_name`

const subscriptionJoin = ` FROM subscription s INNER JOIN product p ON s.product_hash = p.hash`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var sub models.Subscription
	var p models.Product
	var chainName, amount string
	err := row.Scan(&sub.Hash, &sub.UserAddress, &sub.StartTs, &sub.PaymentsMade,
		&sub.Terminated, &sub.MetadataCID, &sub.SubscriptionID, &sub.UserID,
		&p.Hash, &chainName, &p.MerchantAddress, &p.TokenAddress,
		&p.TokenSymbol, &p.TokenDecimals, &amount, &p.Period,
		&p.FreeTrialLength, &p.PaymentPeriod, &p.MetadataCID,
		&p.MerchantDomain, &p.ProductName)
	if err != nil {
		return nil, err
	}
	chain, err := chains.Parse(chainName)
	if err != nil {
		return nil, err
	}
	p.Chain = chain
	p.UintAmount, _ = new(big.Int).SetString(amount, 10)
	if p.UintAmount == nil {
		return nil, fmt.Errorf("corrupt uint_amount %q for product %s", amount, p.Hash)
	}
	sub.Product = &p
	return &sub, nil
}

func (s *Postgres) querySubscriptions(ctx context.Context, query string, args ...any) ([]*models.Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscription rows: %w", err)
	}
	return subs, nil
}

func (s *Postgres) querySubscription(ctx context.Context, query string, args ...any) (*models.Subscription, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	sub, err := scanSubscription(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByHash returns the subscription or nil when unknown.
func (s *Postgres) GetSubscriptionByHash(ctx context.Context, subscriptionHash string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querySubscription(ctx,
		`SELECT `+subscriptionColumns+subscriptionJoin+` WHERE s.hash = $1`, subscriptionHash)
}

// GetAllSubscriptions returns every stored subscription, newest first.
func (s *Postgres) GetAllSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+subscriptionJoin+` ORDER BY s.start_ts DESC`)
}

// GetSubscriptionsByUser returns the user's subscriptions, newest first.
func (s *Postgres) GetSubscriptionsByUser(ctx context.Context, userAddress string) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+subscriptionJoin+
			` WHERE s.user_address = $1 ORDER BY s.start_ts DESC`, userAddress)
}

// GetSubscriptionsByMerchant returns the merchant's subscriptions, newest first.
func (s *Postgres) GetSubscriptionsByMerchant(ctx context.Context, merchantDomain string) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+subscriptionJoin+
			` WHERE p.merchant_domain = $1 ORDER BY s.start_ts DESC`, merchantDomain)
}

// GetSubscriptionsByMerchantAndUser returns the merchant's subscriptions for
// one of its users, newest first.
func (s *Postgres) GetSubscriptionsByMerchantAndUser(ctx context.Context, merchantDomain, userID string) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+subscriptionJoin+
			` WHERE p.merchant_domain = $1 AND s.user_id = $2 ORDER BY s.start_ts DESC`,
		merchantDomain, userID)
}

// GetSubscriptionByMerchantAndSubscriptionID returns the earliest
// subscription carrying the merchant-assigned ID, or nil.
func (s *Postgres) GetSubscriptionByMerchantAndSubscriptionID(ctx context.Context, merchantDomain, subscriptionID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querySubscription(ctx,
		`SELECT `+subscriptionColumns+subscriptionJoin+
			` WHERE p.merchant_domain = $1 AND s.subscription_id = $2 ORDER BY s.start_ts LIMIT 1`,
		merchantDomain, subscriptionID)
}

// GetPayableSubscriptions returns the subscriptions the given initiator may
// charge right now: not terminated, inside the current billing window, bound
// to this initiator, and with no failed attempt for the same payment number
// within the last 24h. A never-attempted payment is always eligible.
func (s *Postgres) GetPayableSubscriptions(ctx context.Context, chain chains.Chain, now int64, initiator string) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+subscriptionJoin+`
		 INNER JOIN merchant m ON p.merchant_address = m.address AND p.chain = m.chain
		 WHERE p.chain = $1 AND s.terminated = FALSE
		   AND $2 > s.start_ts + p.period * s.payments_made
		   AND $2 < s.start_ts + p.period * s.payments_made + p.payment_period
		   AND m.initiator = $3
		   AND NOT EXISTS (
			SELECT 1 FROM subscription_log
			WHERE subscription_hash = s.hash
			  AND log_type = 'payment-issue'
			  AND payment_number = s.payments_made + 1
			  AND timestamp > $2 - $4
		   )`,
		chain.String(), now, initiator, int64(paymentIssueBackoff))
}

// --- Merchant bindings ---

// SetMerchantInitiator upserts the merchant binding; last write wins.
func (s *Postgres) SetMerchantInitiator(ctx context.Context, merchantAddress string, chain chains.Chain, initiator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO merchant (address, chain, initiator) VALUES ($1, $2, $3)
		 ON CONFLICT (address, chain) DO UPDATE SET initiator = EXCLUDED.initiator`,
		merchantAddress, chain.String(), initiator)
	if err != nil {
		return fmt.Errorf("upserting merchant %s on %s: %w", merchantAddress, chain, err)
	}
	return nil
}

// GetMerchantInitiator returns the merchant's bound initiator, or "" when no
// binding exists.
func (s *Postgres) GetMerchantInitiator(ctx context.Context, merchantAddress string, chain chains.Chain) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var initiator string
	err := s.pool.QueryRow(ctx,
		`SELECT initiator FROM merchant WHERE chain = $1 AND address = $2`,
		chain.String(), merchantAddress).Scan(&initiator)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading merchant %s on %s: %w", merchantAddress, chain, err)
	}
	return initiator, nil
}

// --- Subscription logs ---

// AddSubscriptionLog appends a payment attempt record.
func (s *Postgres) AddSubscriptionLog(ctx context.Context, log *models.SubscriptionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription_log (log_type, subscription_hash, payment_number, message, timestamp)
		 VALUES ($1, $2, $3, $4, $5)`,
		log.LogType, log.SubscriptionHash, log.PaymentNumber, log.Message, log.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting subscription log for %s: %w", log.SubscriptionHash, err)
	}
	return nil
}

// GetSubscriptionLogs returns all attempt records for the subscription in
// insertion order.
func (s *Postgres) GetSubscriptionLogs(ctx context.Context, subscriptionHash string) ([]*models.SubscriptionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx,
		`SELECT id, log_type, subscription_hash, payment_number, message, timestamp
		 FROM subscription_log WHERE subscription_hash = $1 ORDER BY id`, subscriptionHash)
	if err != nil {
		return nil, fmt.Errorf("querying subscription logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SubscriptionLog
	for rows.Next() {
		var l models.SubscriptionLog
		if err := rows.Scan(&l.ID, &l.LogType, &l.SubscriptionHash, &l.PaymentNumber, &l.Message, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning subscription log row: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscription log rows: %w", err)
	}
	return logs, nil
}

// --- Metadata cache ---

// StoreMetadata caches a metadata blob under its CID; first write wins.
func (s *Postgres) StoreMetadata(ctx context.Context, ipfsCID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO metadata (ipfs_cid, content) VALUES ($1, $2)
		 ON CONFLICT (ipfs_cid) DO NOTHING`, ipfsCID, content)
	if err != nil {
		return fmt.Errorf("inserting metadata %s: %w", ipfsCID, err)
	}
	return nil
}

// GetMetadataByCID returns the cached blob for the CID.
func (s *Postgres) GetMetadataByCID(ctx context.Context, ipfsCID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM metadata WHERE ipfs_cid = $1`, ipfsCID).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading metadata %s: %w", ipfsCID, err)
	}
	return content, true, nil
}

// GetMetadataCIDByContent returns the CID a blob was already pinned under.
func (s *Postgres) GetMetadataCIDByContent(ctx context.Context, content string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cid string
	err := s.pool.QueryRow(ctx,
		`SELECT ipfs_cid FROM metadata WHERE content = $1`, content).Scan(&cid)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up metadata by content: %w", err)
	}
	return cid, true, nil
}
