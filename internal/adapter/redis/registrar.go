package redis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

const keyPrefix = "geotrigger:channel:"

// Registrar keeps each channel's audience tags in a Redis set and its custom
// data in a hash. It implements tags.Registrar.
type Registrar struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// Connect dials Redis at addr and verifies the connection with a ping.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// NewRegistrar wraps an existing client.
func NewRegistrar(client goredis.UniversalClient, logger *slog.Logger) *Registrar {
	return &Registrar{client: client, logger: logger}
}

// UpdateTags applies one update atomically.
func (r *Registrar) UpdateTags(ctx context.Context, u domain.TagUpdate) error {
	tagsKey, dataKey := keys(u.ChannelID)

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(u.Remove) > 0 {
			pipe.SRem(ctx, tagsKey, toArgs(u.Remove)...)
		}
		if len(u.Add) > 0 {
			pipe.SAdd(ctx, tagsKey, toArgs(u.Add)...)
		}
		if len(u.CustomData) > 0 {
			pipe.HSet(ctx, dataKey, toFields(u.CustomData))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update tags for channel %s: %w", u.ChannelID, err)
	}

	r.logger.Debug("tags updated",
		"channel_id", u.ChannelID,
		"instance_id", u.InstanceID,
		"add", u.Add,
		"remove", u.Remove,
	)
	return nil
}

// Tags returns the channel's current tags in sorted order.
func (r *Registrar) Tags(ctx context.Context, channelID string) ([]string, error) {
	tagsKey, _ := keys(channelID)
	tags, err := r.client.SMembers(ctx, tagsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read tags for channel %s: %w", channelID, err)
	}
	slices.Sort(tags)
	return tags, nil
}

// CustomData returns the channel's stored custom data.
func (r *Registrar) CustomData(ctx context.Context, channelID string) (map[string]string, error) {
	_, dataKey := keys(channelID)
	data, err := r.client.HGetAll(ctx, dataKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read custom data for channel %s: %w", channelID, err)
	}
	return data, nil
}

// CheckReadiness pings Redis.
func (r *Registrar) CheckReadiness(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func keys(channelID string) (tagsKey, dataKey string) {
	base := keyPrefix + channelID
	return base + ":tags", base + ":custom_data"
}

func toArgs(tags []string) []any {
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	return args
}

func toFields(data map[string]string) map[string]any {
	fields := make(map[string]any, len(data))
	for k, v := range data {
		fields[k] = v
	}
	return fields
}
