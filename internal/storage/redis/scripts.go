package redis

import "github.com/redis/go-redis/v9"

const (
	// slidingWindowScript admits a request if fewer than limit requests were
	// admitted within the last window milliseconds
	slidingWindowScript = `
local key = KEYS[1]            -- rl:{bucket}:{id}

local now = tonumber(ARGV[1])     -- unix ms
local window = tonumber(ARGV[2])  -- ms
local limit = tonumber(ARGV[3])
local member = ARGV[4]

-- Drop requests that fell out of the window
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end

redis.call('PEXPIRE', key, window)

-- The window frees a slot when its oldest request ages out
local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end

return {allowed, limit - count, reset}
`

	// revokeScript marks a token revoked for ttl seconds, never shortening
	// an existing revocation
	revokeScript = `
local key = KEYS[1]            -- bl:{tokenHash}
local ttl = tonumber(ARGV[1])

local current = redis.call('TTL', key)
if current >= ttl then
  return 0
end

redis.call('SET', key, '1', 'EX', ttl)
return 1
`
)

var (
	slidingWindow = redis.NewScript(slidingWindowScript)
	revoke        = redis.NewScript(revokeScript)
)
