package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
)

// SignalService broadcasts index-change notifications over redis
// pubsub.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, signal aquarius.Signal) error {

	jsonstr, err := json.Marshal(signal)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, domain.SignalChannel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Subscribe streams signals into out until ctx is cancelled.
func (s *SignalService) Subscribe(ctx context.Context, out chan<- aquarius.Signal) error {
	pubsub := s.rdb.Subscribe(ctx, domain.SignalChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var signal aquarius.Signal
			if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
				continue
			}
			select {
			case out <- signal:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
