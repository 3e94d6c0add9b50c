// Package pubsub adapts cloud.google.com/go/pubsub into a wflow.Puller.
package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	ps "cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	wflow "wflow"
)

// New builds a Puller backed by a Pub/Sub subscription. sub.Receive blocks
// for the lifetime of its callback, so New runs it once in a background
// goroutine and funnels decoded payloads through a channel the returned
// Puller reads from — the same "continuous Receive loop feeding a
// channel" shape the teacher's components/pubsub Initium uses for its
// own chan []map[string]interface{}.
//
// Expected keys: project_id, subscription, topic.
func New(v *viper.Viper, logger *logrus.Logger) (wflow.Puller[map[string]interface{}], error) {
	ctx := context.Background()
	client, err := ps.NewClient(ctx, v.GetString("project_id"))
	if err != nil {
		return nil, err
	}

	topic := client.Topic(v.GetString("topic"))
	subName := v.GetString("subscription")

	sub := client.Subscription(subName)
	if ok, err := sub.Exists(ctx); err != nil {
		return nil, err
	} else if !ok {
		sub, err = client.CreateSubscription(ctx, subName, ps.SubscriptionConfig{Topic: topic})
		if err != nil {
			return nil, err
		}
	}

	out := make(chan map[string]interface{}, 64)

	var once sync.Once
	startReceiving := func(ctx context.Context) {
		once.Do(func() {
			go func() {
				err := sub.Receive(ctx, func(mctx context.Context, message *ps.Message) {
					payload := map[string]interface{}{}
					if err := json.Unmarshal(message.Data, &payload); err != nil {
						logger.Errorf("error unmarshalling from pubsub - %v", err)
						message.Nack()
						return
					}
					message.Ack()
					out <- payload
				})
				if err != nil {
					logger.Errorf("error reading from pubsub - %v", err)
				}
				close(out)
			}()
		})
	}

	return func(ctx context.Context) (map[string]interface{}, uint64, bool, error) {
		startReceiving(ctx)
		select {
		case payload, ok := <-out:
			if !ok {
				return nil, 0, false, nil
			}
			return payload, uint64(time.Now().UnixNano()), true, nil
		case <-ctx.Done():
			return nil, 0, false, nil
		}
	}, nil
}
