package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrWalletNotFound means no transaction was ever applied to the pair.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrVersionConflict is returned when the wallet row changed under us.
	ErrVersionConflict = errors.New("optimistic lock conflict")
	// ErrDuplicateIdempotencyKey is returned when the log already holds the key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrCacheMiss is returned by GetCachedBalance on a miss or when no cache is configured.
	ErrCacheMiss = errors.New("balance cache miss")
)

// TxQuery filters the transaction log. Currency is optional.
type TxQuery struct {
	UserID   string
	Currency string
	Limit    int
	Offset   int
}

// RepositoryInterface restricts Repo methods so the service can be tested with fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error)
	EnsureWallet(ctx context.Context, tx *gorm.DB, userID, currency string) error
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID, currency string) (*model.Wallet, error)
	UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error
	ListWallets(ctx context.Context, userID string) ([]model.Wallet, error)
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, q TxQuery) ([]model.Transaction, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, userID, currency string, version uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error)
	InvalidateBalance(ctx context.Context, userID, currency string) error
}

// Repository implements RepositoryInterface on gorm, Redis and Kafka.
// rdb and writer may be nil.
type Repository struct {
	db       *gorm.DB
	rdb      *redis.Client
	writer   *kafka.Writer
	cacheTTL time.Duration
	log      *zap.SugaredLogger
}

const defaultCacheTTL = 30 * time.Second

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, cacheTTL time.Duration, logger *zap.SugaredLogger) *Repository {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Repository{db: db, rdb: rdb, writer: w, cacheTTL: cacheTTL, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWallet reads a wallet without locking.
func (r *Repository) GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	var w model.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// EnsureWallet inserts a zero wallet unless one exists. The row is only
// visible to others once tx commits.
func (r *Repository) EnsureWallet(ctx context.Context, tx *gorm.DB, userID, currency string) error {
	w := &model.Wallet{UserID: userID, Currency: currency, Balance: decimal.Zero}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(w).Error
}

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID, currency string) (*model.Wallet, error) {
	var w model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListWallets returns every wallet of a user ordered by currency.
func (r *Repository) ListWallets(ctx context.Context, userID string) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("currency").
		Find(&ws).Error
	return ws, err
}

// CreateTransaction appends a log row. The log has no update or delete path.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	err := tx.WithContext(ctx).Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

// FindByIdempotencyKey returns nil, nil when the key was never used.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*model.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	var t model.Transaction
	err := tx.WithContext(ctx).Where("idempotency_key = ?", key).First(&t).Error
	if err == nil {
		return &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// ListTransactions pages the log newest first.
func (r *Repository) ListTransactions(ctx context.Context, q TxQuery) ([]model.Transaction, error) {
	var txs []model.Transaction
	db := r.db.WithContext(ctx).Where("user_id = ?", q.UserID)
	if q.Currency != "" {
		db = db.Where("currency = ?", q.Currency)
	}
	err := db.Order("id desc").Limit(q.Limit).Offset(q.Offset).Find(&txs).Error
	return txs, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka keyed by wallet so per-wallet order holds.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errors.New("kafka writer not configured")
	}
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d", evt.Aggregate, evt.AggregateID)),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "outbox_id", Value: []byte(fmt.Sprintf("%d", evt.ID))},
		},
		Time: time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

func balanceKey(userID, currency string) string {
	return fmt.Sprintf("balance:%s:%s", userID, currency)
}

// setIfNewer stores "<version>:<balance>" unless the key already holds the
// same or a later wallet version. Returns 1 when it wrote.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local v = string.match(cur, '^(%d+):')
  if v and tonumber(v) >= tonumber(ARGV[1]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
return 1
`)

// CacheBalance stores the balance of the given wallet version. A write older
// than what Redis holds is dropped, so a slow reader cannot undo a commit.
func (r *Repository) CacheBalance(ctx context.Context, userID, currency string, version uint64, bal decimal.Decimal) error {
	if r.rdb == nil {
		return nil
	}
	key := balanceKey(userID, currency)
	n, err := setIfNewer.Run(ctx, r.rdb, []string{key},
		strconv.FormatUint(version, 10), bal.String(), strconv.FormatInt(r.cacheTTL.Milliseconds(), 10)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		r.log.Debugw("balance cache holds a newer version", "key", key, "version", version)
	}
	return nil
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	if r.rdb == nil {
		return decimal.Zero, ErrCacheMiss
	}
	key := balanceKey(userID, currency)
	str, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, ErrCacheMiss
	}
	if err != nil {
		return decimal.Zero, err
	}
	_, raw, ok := strings.Cut(str, ":")
	bal, perr := decimal.NewFromString(raw)
	if !ok || perr != nil {
		r.log.Warnw("drop malformed balance cache entry", "key", key, "value", str)
		_ = r.rdb.Del(ctx, key).Err()
		return decimal.Zero, ErrCacheMiss
	}
	return bal, nil
}

// InvalidateBalance drops the cached balance. Used when a write-through after
// commit failed.
func (r *Repository) InvalidateBalance(ctx context.Context, userID, currency string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, balanceKey(userID, currency)).Err()
}
