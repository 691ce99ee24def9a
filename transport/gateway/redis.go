package gateway

import (
	"context"
	"time"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"

	"github.com/redis/go-redis/v9"
)

const DefaultSessionTTL = 5 * time.Minute

var _ Sink = (*RedisSink)(nil)

// RedisSink keeps a presence key per session, refreshed on every frame, plus a small
// statistics hash.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

func NewRedisSink(ctx context.Context, options RedisOptions) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     options.Address,
		Password: options.Password,
		DB:       options.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, E.Cause(err, "connect redis ", options.Address)
	}
	logger.Info("connected to redis ", options.Address)
	return newRedisSink(client, options), nil
}

func newRedisSink(client *redis.Client, options RedisOptions) *RedisSink {
	if options.TTL <= 0 {
		options.TTL = DefaultSessionTTL
	}
	if options.Prefix == "" {
		options.Prefix = "tcpstream"
	}
	return &RedisSink{
		client: client,
		prefix: options.Prefix,
		ttl:    options.TTL,
	}
}

func (s *RedisSink) Register(ctx context.Context, session *Session) error {
	value := session.Source.String() + "->" + session.Destination.String()
	err := s.client.Set(ctx, s.sessionKey(session), value, s.ttl).Err()
	if err != nil {
		return E.Cause(err, "register session")
	}
	return nil
}

func (s *RedisSink) Publish(ctx context.Context, session *Session, frame []byte) error {
	statsKey := s.statsKey(session)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, s.sessionKey(session), s.ttl)
		pipe.HIncrBy(ctx, statsKey, "frames", 1)
		pipe.HIncrBy(ctx, statsKey, "bytes", int64(len(frame)))
		pipe.HSet(ctx, statsKey, "ts", time.Now().Unix())
		pipe.Expire(ctx, statsKey, s.ttl)
		return nil
	})
	if err != nil {
		return E.Cause(err, "refresh session")
	}
	return nil
}

func (s *RedisSink) Unregister(ctx context.Context, session *Session) error {
	err := s.client.Del(ctx, s.sessionKey(session), s.statsKey(session)).Err()
	if err != nil {
		return E.Cause(err, "remove session")
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) sessionKey(session *Session) string {
	return s.prefix + ":sess:" + session.ID
}

func (s *RedisSink) statsKey(session *Session) string {
	return s.prefix + ":stats:" + session.ID
}
