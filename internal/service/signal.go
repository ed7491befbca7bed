package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/partim/atomtools/internal/domain"
)

// SignalService fans accepted posts out to realtime subscribers over redis
// pub/sub. It implements usecase.EventPublisher.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, event domain.PostEvent) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, domain.ChannelPosts, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Realtime forwards post events to output until ctx is done. Payloads that
// fail to decode are dropped.
func (s *SignalService) Realtime(ctx context.Context, output chan<- domain.PostEvent) {
	pubsub := s.rdb.Subscribe(ctx, domain.ChannelPosts)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event domain.PostEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("failed to decode post event",
					slog.String("module", "signal"),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
