package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/model"
)

// acquireScript checks and increments a window counter atomically. It never
// increments past the limit, so denied requests leave the counter untouched.
// KEYS[1] = window counter key
// ARGV[1] = limit
// ARGV[2] = expiry in milliseconds
var acquireScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= limit then
	return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

// RedisOptions configures the connection owned by the Redis enforcer.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Addr == "" {
		o.Addr = "localhost:6379"
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	return o
}

// Redis is an Enforcer whose window counters live in Redis, shared by every
// gateway replica. Window starts are baked into the counter keys; expiry is
// only hygiene for keys no longer reachable.
type Redis struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// NewRedis dials Redis and verifies the connection before returning.
func NewRedis(ctx context.Context, opts RedisOptions, cfg Config, logger *slog.Logger) (*Redis, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return NewRedisWithClient(client, cfg, logger), nil
}

// NewRedisWithClient wraps an existing client. The enforcer takes ownership
// and closes it on Close.
func NewRedisWithClient(client *redis.Client, cfg Config, logger *slog.Logger) *Redis {
	return &Redis{client: client, cfg: cfg.withDefaults(), logger: logger}
}

func (r *Redis) key(subject string, class Class, start time.Time) string {
	return "quota:" + subject + ":" + string(class) + ":" + strconv.FormatInt(start.Unix(), 10)
}

func (r *Redis) TryAcquire(ctx context.Context, subject string, tier model.Tier, class Class) (Decision, error) {
	limit := r.cfg.limit(tier, class)
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := time.Now()
	start := windowStart(now, r.cfg.Window)
	expiry := r.cfg.Window.Milliseconds() + 1000

	res, err := acquireScript.Run(ctx, r.client, []string{r.key(subject, class, start)}, limit, expiry).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("quota acquire: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("quota acquire: unexpected script reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)

	d := Decision{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: limit - int(count),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(now, start, r.cfg.Window)
	}
	return d, nil
}

func (r *Redis) Snapshot(ctx context.Context, subject string, tier model.Tier, class Class) (Decision, error) {
	limit := r.cfg.limit(tier, class)
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := time.Now()
	start := windowStart(now, r.cfg.Window)

	var count int64
	val, err := r.client.Get(ctx, r.key(subject, class, start)).Result()
	switch {
	case err == redis.Nil:
		count = 0
	case err != nil:
		return Decision{}, fmt.Errorf("quota snapshot: %w", err)
	default:
		count, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return Decision{}, fmt.Errorf("quota snapshot: parse counter: %w", err)
		}
	}

	d := Decision{
		Allowed:   count < int64(limit),
		Limit:     limit,
		Remaining: limit - int(count),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(now, start, r.cfg.Window)
	}
	return d, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
