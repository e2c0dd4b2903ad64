package queue

import "github.com/redis/go-redis/v9"

// Every compound mutation of the waiting room is one of these scripts so
// Redis applies it atomically: nobody can observe an entry's metadata
// without its matching index membership, or the other way round.
//
// Timestamps are unix milliseconds computed by the caller and passed as
// strings; the scripts only compare them.

// enqueueScript
//
//	KEYS: user index, sequence, waiting zset, entry hash
//	ARGV: token, user id, now ms, entry ttl ms, entry key prefix
//	returns {1, position} or {0, existing token}
var enqueueScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  local meta = redis.call('HMGET', ARGV[5] .. existing, 'status', 'expires_at')
  if meta[1] == 'WAITING' then
    return {0, existing}
  end
  if meta[1] == 'ACTIVE' then
    local exp = tonumber(meta[2])
    if (not exp) or exp > tonumber(ARGV[3]) then
      return {0, existing}
    end
  end
end
local pos = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[3], pos, ARGV[1])
redis.call('HSET', KEYS[4], 'token', ARGV[1], 'user_id', ARGV[2], 'status', 'WAITING',
  'position', pos, 'entered_at', ARGV[3], 'expires_at', '')
redis.call('PEXPIRE', KEYS[4], ARGV[4])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
return {1, pos}
`)

// promoteScript flips one WAITING entry to ACTIVE.  Entries that are no
// longer waiting are only dropped from the waiting zset, which makes the
// script idempotent per token.
//
//	KEYS: entry hash, waiting zset, active zset
//	ARGV: token, expires at ms, entry pexpire ms, active window ms, user key prefix
//	returns 1 promoted, 0 not waiting, -1 metadata gone
var promoteScript = redis.NewScript(`
local meta = redis.call('HMGET', KEYS[1], 'status', 'user_id')
if not meta[1] then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return -1
end
if meta[1] ~= 'WAITING' then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'ACTIVE', 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
if meta[2] then
  local uk = ARGV[5] .. meta[2]
  local cur = redis.call('GET', uk)
  if (not cur) or cur == ARGV[1] then
    redis.call('SET', uk, ARGV[1], 'PX', ARGV[4])
  end
end
return 1
`)

// expireScript moves an entry to EXPIRED and drops its indices.  Without
// the force flag only ACTIVE entries whose window elapsed are touched;
// with it (explicit leave) WAITING and ACTIVE entries both expire now.
//
//	KEYS: entry hash, active zset, waiting zset
//	ARGV: token, now ms, retention ms, user key prefix, force ("1" or "0")
//	returns 1 expired, 0 nothing to do, 2 still active, -1 metadata gone
var expireScript = redis.NewScript(`
local meta = redis.call('HMGET', KEYS[1], 'status', 'expires_at', 'user_id')
local st = meta[1]
if not st then
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
  return -1
end
if st == 'EXPIRED' then
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
  return 0
end
local now = tonumber(ARGV[2])
local exp = tonumber(meta[2])
if ARGV[5] ~= '1' then
  if st ~= 'ACTIVE' then
    redis.call('ZREM', KEYS[2], ARGV[1])
    return 0
  end
  if exp and exp > now then
    return 2
  end
end
if (not exp) or exp > now then
  redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
end
redis.call('HSET', KEYS[1], 'status', 'EXPIRED')
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
if meta[3] then
  local uk = ARGV[4] .. meta[3]
  if redis.call('GET', uk) == ARGV[1] then
    redis.call('DEL', uk)
  end
end
return 1
`)

// script results
const (
	promoted     = 1
	metadataGone = -1
	expiredNow   = 1
	stillActive  = 2
)
