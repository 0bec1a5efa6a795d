package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "audit:scans"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("audit: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("audit: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEntry(e Entry) ([]byte, error) {
	return encMode.Marshal(e)
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	err := decMode.Unmarshal(data, &e)
	return e, err
}

// RedisLog keeps the newest entries in a capped Redis list shared by every
// gate of the deployment.
type RedisLog struct {
	Redis *redis.Client
	key   string
	size  int64
}

func NewRedisLog(redisClient *redis.Client, key string, size int64) *RedisLog {
	if key == "" {
		key = DefaultKey
	}
	if size <= 0 {
		size = 1
	}
	return &RedisLog{Redis: redisClient, key: key, size: size}
}

func (l *RedisLog) Record(ctx context.Context, e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}

	_, err = l.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, l.key, data)
		pipe.LTrim(ctx, l.key, 0, l.size-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("audit: record entry: %w", err)
	}
	return nil
}

func (l *RedisLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || int64(limit) > l.size {
		limit = int(l.size)
	}

	raw, err := l.Redis.LRange(ctx, l.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: read entries: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		e, err := decodeEntry([]byte(item))
		if err != nil {
			slog.Warn("skipping unreadable audit entry", "key", l.key, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
