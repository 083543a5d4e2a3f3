package redisstore

import redis "github.com/redis/go-redis/v9"

var createEventScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// The decrement is its own gate: it only applies while issued > 0.
// Returns the remaining units, -1 when the event is missing, -2 when sold out.
var takeUnitScript = redis.NewScript(`
local issued = redis.call("HGET", KEYS[1], "issued")
if not issued then
    return -1
end
issued = tonumber(issued)
if issued <= 0 then
    return -2
end
redis.call("HINCRBY", KEYS[1], "issued", -1)
redis.call("HINCRBY", KEYS[1], "version", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[1])
return issued - 1
`)

// Compensating credit; refuses to push issued above max.
var returnUnitScript = redis.NewScript(`
local issued = redis.call("HGET", KEYS[1], "issued")
if not issued then
    return -1
end
local max = tonumber(redis.call("HGET", KEYS[1], "max"))
issued = tonumber(issued)
if issued >= max then
    return -2
end
redis.call("HINCRBY", KEYS[1], "issued", 1)
redis.call("HINCRBY", KEYS[1], "version", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[1])
return issued + 1
`)

// Returns 0 on code collision.
var insertVoucherScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "code", ARGV[2], "event_id", ARGV[3], "recipient", ARGV[4], "issued_at", ARGV[5])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`)

var removeVoucherScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return 1
`)

// KEYS: pending, inflight. ARGV: now_ms, limit, consumer, job key prefix, now_us.
var claimJobsScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
    local jk = ARGV[4] .. id
    redis.call("ZREM", KEYS[1], id)
    local timeout = tonumber(redis.call("HGET", jk, "timeout_ms") or "0")
    redis.call("ZADD", KEYS[2], tonumber(ARGV[1]) + 2 * timeout, id)
    redis.call("HINCRBY", jk, "attempts", 1)
    redis.call("HSET", jk, "status", "in_flight", "claimed_by", ARGV[3], "updated_at", ARGV[5])
end
return ids
`)

// KEYS: inflight, job. ARGV: id, consumer, deadline_ms.
// Returns 0 when the consumer no longer owns the claim.
var touchJobScript = redis.NewScript(`
if redis.call("HGET", KEYS[2], "claimed_by") ~= ARGV[2] then
    return 0
end
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
    return 0
end
redis.call("ZADD", KEYS[1], "XX", tonumber(ARGV[3]), ARGV[1])
return 1
`)

// KEYS: inflight, pending, job, dead, delivered.
// ARGV: id, consumer, status, next_attempt_ms, last_error, updated_us, next_attempt_us.
// Returns 0 when the consumer no longer owns the claim.
var settleJobScript = redis.NewScript(`
if redis.call("HGET", KEYS[3], "claimed_by") ~= ARGV[2] then
    return 0
end
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[3], "status", ARGV[3], "claimed_by", "", "last_error", ARGV[5], "updated_at", ARGV[6], "next_attempt_at", ARGV[7])
if ARGV[3] == "pending" then
    redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
elseif ARGV[3] == "failed_exhausted" then
    redis.call("SADD", KEYS[4], ARGV[1])
elseif ARGV[3] == "delivered" then
    redis.call("INCR", KEYS[5])
end
return 1
`)

// KEYS: inflight, pending, dead. ARGV: now_ms, job key prefix, message, now_us.
var requeueExpiredScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
    local jk = ARGV[2] .. id
    redis.call("ZREM", KEYS[1], id)
    local attempts = tonumber(redis.call("HGET", jk, "attempts") or "0")
    local max = tonumber(redis.call("HGET", jk, "max_attempts") or "1")
    if attempts >= max then
        redis.call("HSET", jk, "status", "failed_exhausted", "claimed_by", "", "last_error", ARGV[3], "updated_at", ARGV[4])
        redis.call("SADD", KEYS[3], id)
    else
        redis.call("HSET", jk, "status", "pending", "claimed_by", "", "last_error", ARGV[3], "updated_at", ARGV[4], "next_attempt_at", ARGV[4])
        redis.call("ZADD", KEYS[2], ARGV[1], id)
    end
end
return #ids
`)
