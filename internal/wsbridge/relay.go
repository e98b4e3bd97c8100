package wsbridge

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/streamspace/pulsehost/internal/logger"
)

// redisChannel is the pub/sub channel every pulsehost process
// publishes ChangedProperty broadcasts to and subscribes from, so
// dashboard clients on one process see property updates that
// originated on another. This is never plugin-mesh traffic: two
// processes never share a DataStore or loader set (see SPEC_FULL.md).
const redisChannel = "pulsehost:property_updates"

// RedisRelay implements Relay over a go-redis/v9 pub/sub channel.
// Adapted from the teacher's internal/cache + agent_hub_redis_test.go
// cross-process broadcast idiom.
type RedisRelay struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisRelay connects to addr (host:port) and returns a Relay. The
// caller should only construct one when PULSEHOST_REDIS_ADDR is set;
// a Hub with no Relay broadcasts only within its own process.
func NewRedisRelay(addr string) *RedisRelay {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisRelay{client: client, ctx: context.Background()}
}

// Publish fans payload out to every subscribed pulsehost process.
func (r *RedisRelay) Publish(payload []byte) {
	if err := r.client.Publish(r.ctx, redisChannel, payload).Err(); err != nil {
		logger.WebSocket().Warn().Err(err).Msg("redis relay publish failed")
	}
}

// Subscribe starts a background goroutine delivering every message
// this process's redis client receives (including its own publishes,
// which the Hub's localBroadcast already de-duplicates by client set
// membership — a dashboard client only ever belongs to one process).
func (r *RedisRelay) Subscribe(deliver func([]byte)) {
	sub := r.client.Subscribe(r.ctx, redisChannel)
	ch := sub.Channel()
	go func() {
		for msg := range ch {
			deliver([]byte(msg.Payload))
		}
	}()
}

// Close releases the underlying redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
