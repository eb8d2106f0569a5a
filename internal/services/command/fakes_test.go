package command

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
)

// fakeRedisRepo is an in-memory keystore with the same atomicity guarantees as
// the server-side scripts: every seckill primitive runs under one lock.
type fakeRedisRepo struct {
	mu sync.Mutex

	kv      map[string]string
	stock   map[string]int64
	version map[string]int64
	quota   map[string]int64
	daily   map[string]int64
	global  map[string]int64
	history map[string][]mmodel.StatusTransition

	failCommit   error
	failSet      map[string]error
	failRollback error

	rollbacks []string
}

func newFakeRedisRepo() *fakeRedisRepo {
	return &fakeRedisRepo{
		kv:      make(map[string]string),
		stock:   make(map[string]int64),
		version: make(map[string]int64),
		quota:   make(map[string]int64),
		daily:   make(map[string]int64),
		global:  make(map[string]int64),
		history: make(map[string][]mmodel.StatusTransition),
		failSet: make(map[string]error),
	}
}

func (f *fakeRedisRepo) seedActivity(act *mmodel.Activity) {
	entry, _ := json.Marshal(mmodel.NewActivityCacheEntry(act))

	f.mu.Lock()
	defer f.mu.Unlock()

	f.kv[cn.ActivityKeyPrefix+act.ID] = string(entry)
	f.kv[cn.StatusKeyPrefix+act.ID] = act.Status
	f.stock[act.ID] = act.TotalStock - act.SoldCount
}

func (f *fakeRedisRepo) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for prefix, err := range f.failSet {
		if strings.HasPrefix(key, prefix) {
			return err
		}
	}

	f.kv[key] = value

	return nil
}

func (f *fakeRedisRepo) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.kv[key]; ok {
		return false, nil
	}

	f.kv[key] = value

	return true, nil
}

func (f *fakeRedisRepo) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	val, ok := f.kv[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}

	return val, nil
}

func (f *fakeRedisRepo) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, key := range keys {
		delete(f.kv, key)
	}

	return nil
}

func (f *fakeRedisRepo) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	return 0, nil
}

func (f *fakeRedisRepo) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

func (f *fakeRedisRepo) TTL(ctx context.Context, key string) (time.Duration, error) {
	// Fresh enough that refresh-ahead stays quiet unless a test lowers it.
	return 5 * time.Minute, nil
}

func (f *fakeRedisRepo) RPush(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.kv[key] += value + "\n"

	return nil
}

func (f *fakeRedisRepo) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}

func (f *fakeRedisRepo) Publish(ctx context.Context, channel, message string) error { return nil }

func (f *fakeRedisRepo) Commit(ctx context.Context, activityID, userID string, qty, perUserLimit int64, quotaTTL time.Duration) (*mmodel.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCommit != nil {
		return nil, f.failCommit
	}

	if _, ok := f.kv[cn.ActivityKeyPrefix+activityID]; !ok {
		return &mmodel.CommitResult{Code: mmodel.ReasonActivityNotActive, RemainingStock: -1, UserPurchased: -1, RemainingQuota: -1}, nil
	}

	if f.kv[cn.StatusKeyPrefix+activityID] != mmodel.StatusActive {
		return &mmodel.CommitResult{Code: mmodel.ReasonActivityNotActive, RemainingStock: -1, UserPurchased: -1, RemainingQuota: -1}, nil
	}

	quotaKey := userID + ":" + activityID

	u := f.quota[quotaKey]
	if u+qty > perUserLimit {
		return &mmodel.CommitResult{Code: mmodel.ReasonUserLimitExceeded, RemainingStock: -1, UserPurchased: u, RemainingQuota: perUserLimit - u}, nil
	}

	s, ok := f.stock[activityID]
	if !ok {
		return &mmodel.CommitResult{Code: mmodel.ReasonActivityNotActive, RemainingStock: -1, UserPurchased: -1, RemainingQuota: -1}, nil
	}

	if s < qty {
		return &mmodel.CommitResult{Code: mmodel.ReasonInsufficientStock, RemainingStock: s, UserPurchased: u, RemainingQuota: perUserLimit - u}, nil
	}

	f.stock[activityID] = s - qty
	f.quota[quotaKey] = u + qty
	f.version[activityID]++

	return &mmodel.CommitResult{
		Code:           mmodel.ReasonOK,
		RemainingStock: s - qty,
		UserPurchased:  u + qty,
		RemainingQuota: perUserLimit - u - qty,
	}, nil
}

func (f *fakeRedisRepo) Rollback(ctx context.Context, activityID, userID string, qty, totalStock int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failRollback != nil {
		return f.failRollback
	}

	f.rollbacks = append(f.rollbacks, activityID+":"+userID)

	f.stock[activityID] += qty
	if f.stock[activityID] > totalStock {
		f.stock[activityID] = totalStock
	}

	quotaKey := userID + ":" + activityID

	f.quota[quotaKey] -= qty
	if f.quota[quotaKey] < 0 {
		f.quota[quotaKey] = 0
	}

	f.version[activityID]++

	return nil
}

func (f *fakeRedisRepo) InitStock(ctx context.Context, activityID string, available int64, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stock[activityID] = available
	f.version[activityID] = 0

	return nil
}

func (f *fakeRedisRepo) GetStock(ctx context.Context, activityID string) (*mmodel.StockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.stock[activityID]
	if !ok {
		return nil, redis.ErrKeyNotFound
	}

	return &mmodel.StockRecord{
		ActivityID: activityID,
		Available:  s,
		Version:    f.version[activityID],
		UpdatedAt:  time.Now(),
	}, nil
}

func (f *fakeRedisRepo) SetStockChecked(ctx context.Context, activityID string, value, expectedVersion int64, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.version[activityID] != expectedVersion {
		return false, nil
	}

	f.stock[activityID] = value
	f.version[activityID]++

	return true, nil
}

func (f *fakeRedisRepo) GetUserQuota(ctx context.Context, userID, activityID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.quota[userID+":"+activityID], nil
}

func (f *fakeRedisRepo) IncrementDailyAndGlobal(ctx context.Context, userID string, qty int64, globalTTL time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.daily[userID] += qty
	f.global[userID] += qty

	return nil
}

func (f *fakeRedisRepo) GetDailyPurchased(ctx context.Context, userID string, day string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.daily[userID], nil
}

func (f *fakeRedisRepo) GetGlobalPurchased(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.global[userID], nil
}

func (f *fakeRedisRepo) AppendStatusHistory(ctx context.Context, activityID string, transition mmodel.StatusTransition, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history[activityID] = append(f.history[activityID], transition)

	return nil
}

// fakeOutboxRepo keeps the outbox state machine in memory.
type fakeOutboxRepo struct {
	mu sync.Mutex

	msgs     map[string]*mmodel.ReliableMessage
	due      map[string]time.Time
	inFlight map[string]time.Time
	dead     []*mmodel.ReliableMessage
	acked    []string

	failSave error
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{
		msgs:     make(map[string]*mmodel.ReliableMessage),
		due:      make(map[string]time.Time),
		inFlight: make(map[string]time.Time),
	}
}

func (f *fakeOutboxRepo) Save(ctx context.Context, msg *mmodel.ReliableMessage, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSave != nil {
		return f.failSave
	}

	clone := *msg
	f.msgs[msg.ID] = &clone
	f.due[msg.ID] = msg.NextAttemptAt

	return nil
}

func (f *fakeOutboxRepo) Find(ctx context.Context, id string) (*mmodel.ReliableMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.msgs[id]
	if !ok {
		return nil, redis.ErrKeyNotFound
	}

	clone := *msg

	return &clone, nil
}

func (f *fakeOutboxRepo) Update(ctx context.Context, msg *mmodel.ReliableMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *msg
	f.msgs[msg.ID] = &clone

	return nil
}

func (f *fakeOutboxRepo) ClaimDue(ctx context.Context, now time.Time, batch int64) ([]*mmodel.ReliableMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var claimed []*mmodel.ReliableMessage

	for id, dueAt := range f.due {
		if int64(len(claimed)) >= batch {
			break
		}

		if dueAt.After(now) {
			continue
		}

		delete(f.due, id)

		msg := f.msgs[id]
		msg.Status = mmodel.MessageInFlight
		msg.UpdatedAt = now

		f.inFlight[id] = now

		clone := *msg
		claimed = append(claimed, &clone)
	}

	return claimed, nil
}

func (f *fakeOutboxRepo) Reschedule(ctx context.Context, msg *mmodel.ReliableMessage, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg.Status = mmodel.MessageRetryPending
	msg.NextAttemptAt = nextAttemptAt

	clone := *msg
	f.msgs[msg.ID] = &clone

	delete(f.inFlight, msg.ID)
	f.due[msg.ID] = nextAttemptAt

	return nil
}

func (f *fakeOutboxRepo) Ack(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acked = append(f.acked, id)

	delete(f.msgs, id)
	delete(f.due, id)
	delete(f.inFlight, id)

	return nil
}

func (f *fakeOutboxRepo) MarkDead(ctx context.Context, msg *mmodel.ReliableMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg.Status = mmodel.MessageDead

	clone := *msg
	f.msgs[msg.ID] = &clone
	f.dead = append(f.dead, &clone)

	delete(f.due, msg.ID)
	delete(f.inFlight, msg.ID)

	return nil
}

func (f *fakeOutboxRepo) Outstanding(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return int64(len(f.due) + len(f.inFlight)), nil
}

func (f *fakeOutboxRepo) DeadCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return int64(len(f.dead)), nil
}

func (f *fakeOutboxRepo) ResetInFlight(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	reset := 0

	for id, claimedAt := range f.inFlight {
		if claimedAt.After(cutoff) {
			continue
		}

		delete(f.inFlight, id)
		f.due[id] = time.Now()

		if msg, ok := f.msgs[id]; ok {
			msg.Status = mmodel.MessageRetryPending
		}

		reset++
	}

	return reset, nil
}

// fakeActivityRepo is an in-memory activity source of truth.
type fakeActivityRepo struct {
	mu sync.Mutex

	acts        map[string]*mmodel.Activity
	syncRecords []*mmodel.SyncRecord
}

func newFakeActivityRepo() *fakeActivityRepo {
	return &fakeActivityRepo{acts: make(map[string]*mmodel.Activity)}
}

func (f *fakeActivityRepo) Create(ctx context.Context, act *mmodel.Activity) (*mmodel.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *act
	f.acts[act.ID] = &clone

	return act, nil
}

func (f *fakeActivityRepo) Find(ctx context.Context, id string) (*mmodel.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	act, ok := f.acts[id]
	if !ok {
		return nil, pkgEntityNotFound()
	}

	clone := *act

	return &clone, nil
}

func (f *fakeActivityRepo) ListByIDs(ctx context.Context, ids []string) ([]*mmodel.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*mmodel.Activity

	for _, id := range ids {
		if act, ok := f.acts[id]; ok {
			clone := *act
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (f *fakeActivityRepo) ListActive(ctx context.Context, limit int) ([]*mmodel.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*mmodel.Activity

	for _, act := range f.acts {
		if act.Status == mmodel.StatusActive && len(out) < limit {
			clone := *act
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (f *fakeActivityRepo) UpdateStock(ctx context.Context, id string, soldCount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	act, ok := f.acts[id]
	if !ok {
		return pkgEntityNotFound()
	}

	act.SoldCount = soldCount

	return nil
}

func (f *fakeActivityRepo) UpdateStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	act, ok := f.acts[id]
	if !ok {
		return pkgEntityNotFound()
	}

	act.Status = status

	return nil
}

func (f *fakeActivityRepo) InsertSyncRecord(ctx context.Context, rec *mmodel.SyncRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.syncRecords = append(f.syncRecords, rec)

	return nil
}

func pkgEntityNotFound() error {
	return pkg.ValidateBusinessError(cn.ErrActivityNotFound, "Activity")
}

// fakeProducer records publishes and can be told to fail.
type fakeProducer struct {
	mu sync.Mutex

	published []publishedMessage
	fail      error
	failTimes int
}

type publishedMessage struct {
	exchange string
	key      string
	body     []byte
}

func (f *fakeProducer) ProducerDefault(ctx context.Context, exchange, key string, message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil && (f.failTimes < 0 || f.failTimes > 0) {
		if f.failTimes > 0 {
			f.failTimes--
		}

		return f.fail
	}

	f.published = append(f.published, publishedMessage{exchange: exchange, key: key, body: message})

	return nil
}

func (f *fakeProducer) CheckRabbitMQHealth() bool { return true }

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.published)
}
