package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Registered script names. The set is fixed at process start; scripts are
// invoked by content hash with a source fallback on cache miss.
const (
	ScriptCommit      = "seckill_commit"
	ScriptRollback    = "seckill_rollback"
	ScriptStockSet    = "stock_checked_set"
	ScriptOutboxClaim = "outbox_claim"
)

// commitScript re-checks activity, status, time window, user quota and stock,
// then pairs the stock decrement with the quota increment in one unit of
// isolation. The cheap pre-checks outside the script can race with concurrent
// admissions; this block is the only place stock decreases.
//
// KEYS: activity:{id}, status:{id}, stock:{id}, userlimit:{uid}:{aid}, stockver:{id}
// ARGV: qty, nowMillis, perUserLimit, userLimitTTLSeconds
const commitScript = `
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {'activity_not_active', -1, -1, -1}
end

local status = redis.call('GET', KEYS[2])
if status ~= 'active' then
  return {'activity_not_active', -1, -1, -1}
end

local qty = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

if qty == nil or qty <= 0 or limit == nil or limit <= 0 then
  return {'invalid_params', -1, -1, -1}
end

local ok, act = pcall(cjson.decode, raw)
if ok and act.startMillis and act.endMillis then
  if now < tonumber(act.startMillis) or now > tonumber(act.endMillis) then
    return {'activity_not_active', -1, -1, -1}
  end
end

local u = tonumber(redis.call('GET', KEYS[4]) or '0')
if u + qty > limit then
  return {'user_limit_exceeded', -1, u, limit - u}
end

local s = tonumber(redis.call('GET', KEYS[3]) or '-1')
if s < 0 then
  return {'activity_not_active', -1, -1, -1}
end

if s < qty then
  return {'insufficient_stock', s, u, limit - u}
end

local s2 = redis.call('DECRBY', KEYS[3], qty)
local u2 = redis.call('INCRBY', KEYS[4], qty)
local ttl = tonumber(ARGV[4])
if ttl and ttl > 0 then
  redis.call('EXPIRE', KEYS[4], ttl)
end
redis.call('INCR', KEYS[5])

return {'ok', s2, u2, limit - u2}
`

// rollbackScript reverses one commit unconditionally: stock back up (never
// above the supplied ceiling), user quota back down (never below zero).
//
// KEYS: stock:{id}, userlimit:{uid}:{aid}, stockver:{id}
// ARGV: qty, totalStockCeiling
const rollbackScript = `
local qty = tonumber(ARGV[1])
local ceiling = tonumber(ARGV[2])

local s = redis.call('INCRBY', KEYS[1], qty)
if ceiling >= 0 and s > ceiling then
  s = ceiling
  redis.call('SET', KEYS[1], s)
end

local u = redis.call('DECRBY', KEYS[2], qty)
if u < 0 then
  u = 0
  redis.call('SET', KEYS[2], '0')
end

redis.call('INCR', KEYS[3])

return {s, u}
`

// stockSetScript writes a reconciled stock value only when the version counter
// still matches what the synchronizer observed, so a commit racing the sync is
// never overwritten (versioned optimistic update).
//
// KEYS: stock:{id}, stockver:{id}
// ARGV: newValue, expectedVersion, ttlSeconds
const stockSetScript = `
local ver = tonumber(redis.call('GET', KEYS[2]) or '0')
if ver ~= tonumber(ARGV[2]) then
  return 0
end

redis.call('SET', KEYS[1], ARGV[1])
redis.call('INCR', KEYS[2])

local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
  redis.call('EXPIRE', KEYS[2], ttl)
end

return 1
`

// outboxClaimScript atomically pops up to ARGV[2] due message ids from the
// retry index. Removal from the index is the dispatch lease: two workers can
// never claim the same id.
//
// KEYS: outbox:due
// ARGV: nowScore, batchSize
const outboxClaimScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #due > 0 then
  redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`

type script struct {
	source string
	sha    string
}

// ScriptRegistry holds the fixed set of named server-side scripts, computes
// their content hashes once and invokes them by hash with fallback to source
// when the keystore script cache was flushed.
type ScriptRegistry struct {
	mu      sync.RWMutex
	scripts map[string]*script
}

// NewScriptRegistry registers the engine scripts and precomputes their SHA1 hashes.
func NewScriptRegistry() *ScriptRegistry {
	r := &ScriptRegistry{scripts: make(map[string]*script)}

	r.register(ScriptCommit, commitScript)
	r.register(ScriptRollback, rollbackScript)
	r.register(ScriptStockSet, stockSetScript)
	r.register(ScriptOutboxClaim, outboxClaimScript)

	return r
}

func (r *ScriptRegistry) register(name, source string) {
	sum := sha1.Sum([]byte(source))

	r.scripts[name] = &script{
		source: source,
		sha:    hex.EncodeToString(sum[:]),
	}
}

// Source returns the registered source of a script, empty when unknown.
func (r *ScriptRegistry) Source(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.scripts[name]; ok {
		return s.source
	}

	return ""
}

// Run invokes a registered script by hash. On a NOSCRIPT reply it re-registers
// the source once and retries; when loading is not possible it falls back to a
// plain EVAL of the source.
func (r *ScriptRegistry) Run(ctx context.Context, client redis.UniversalClient, name string, keys []string, args ...any) (any, error) {
	r.mu.RLock()
	s, ok := r.scripts[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errScriptNotRegistered(name)
	}

	res, err := client.EvalSha(ctx, s.sha, keys, args...).Result()
	if err == nil {
		return res, nil
	}

	if !redis.HasErrorPrefix(err, "NOSCRIPT") {
		return nil, err
	}

	if _, loadErr := client.ScriptLoad(ctx, s.source).Result(); loadErr != nil {
		return client.Eval(ctx, s.source, keys, args...).Result()
	}

	return client.EvalSha(ctx, s.sha, keys, args...).Result()
}
