package alertxredis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/batchx/pkg/alertx"
	"github.com/Abraxas-365/batchx/pkg/errx"
)

var redisErrors = errx.NewRegistry("ALERTX_REDIS")

var (
	ErrPublishFailed = redisErrors.Register("PUBLISH_FAILED", errx.TypeExternal, 500, "Failed to publish alert to redis")
	ErrMarshalFailed = redisErrors.Register("MARSHAL_FAILED", errx.TypeInternal, 500, "Failed to marshal alert")
)

// RedisProvider publishes alerts as JSON onto a redis pub/sub channel for
// downstream consumers (dashboards, incident bots).
type RedisProvider struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisProvider creates a new redis alert provider.
func NewRedisProvider(client redis.UniversalClient, channel string) *RedisProvider {
	return &RedisProvider{
		client:  client,
		channel: channel,
	}
}

// Name identifies the provider in delivery results.
func (p *RedisProvider) Name() string { return "redis" }

// Send publishes the alert onto the configured channel.
func (p *RedisProvider) Send(ctx context.Context, a alertx.Alert, _ ...alertx.Option) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshalFailed, err).WithDetail("alert_id", a.ID)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return redisErrors.NewWithCause(ErrPublishFailed, err).
			WithDetail("alert_id", a.ID).
			WithDetail("channel", p.channel)
	}
	return nil
}
