package geolite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	reloadRedisChannel = "geoipd:geolite:reloaded"
	redisOpTimeout     = 10 * time.Second
)

// ReloadNotice is broadcast after a successful load so that every serving
// instance drops its cached answers.
type ReloadNotice struct {
	Store     string `json:"store"`
	Blocks    int    `json:"blocks"`
	Locations int    `json:"locations"`
	Names     int    `json:"names"`
	LoadedAt  string `json:"loaded_at"`
}

func NewReloadNotice(store string, result *Result) ReloadNotice {
	notice := ReloadNotice{
		Store:    store,
		LoadedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if result != nil {
		notice.Blocks = result.Blocks
		notice.Locations = result.Locations
		notice.Names = result.Names
	}
	return notice
}

func PublishReload(ctx context.Context, client *redis.Client, notice ReloadNotice) error {
	if client == nil {
		return errors.New("geolite: reload publish: redis client is nil")
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("geolite: reload publish: serialize payload: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Publish(opCtx, reloadRedisChannel, payload).Err(); err != nil {
		return fmt.Errorf("geolite: reload publish: %w", err)
	}
	return nil
}

// SubscribeReloads calls handle for every notice until ctx is done.
func SubscribeReloads(ctx context.Context, client *redis.Client, handle func(ReloadNotice)) {
	if client == nil || handle == nil {
		return
	}

	pubsub := client.Subscribe(ctx, reloadRedisChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("geolite reload subscription error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var notice ReloadNotice
		if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
			log.Error("geolite reload subscription: invalid payload", "error", err)
			continue
		}
		handle(notice)
	}
}
