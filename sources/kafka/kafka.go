// Package kafka adapts github.com/segmentio/kafka-go into a wflow.Puller,
// the Source operator's connector-side read function (spec §4.1).
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kaf "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	wflow "wflow"
)

// New builds a Puller that reads one Kafka message at a time off a
// kafka.Reader configured from v, unmarshals its JSON value into a
// map[string]interface{}, and uses the message's own timestamp as the
// envelope's event-time timestamp.
//
// Expected keys: brokers ([]string), topic, group_id.
func New(v *viper.Viper, logger *logrus.Logger) wflow.Puller[map[string]interface{}] {
	reader := kaf.NewReader(kaf.ReaderConfig{
		Brokers: v.GetStringSlice("brokers"),
		Topic:   v.GetString("topic"),
		GroupID: v.GetString("group_id"),
	})

	return func(ctx context.Context) (map[string]interface{}, uint64, bool, error) {
		message, err := reader.ReadMessage(ctx)
		if err != nil {
			logger.Errorf("error reading from kafka - %v", err)
			return nil, 0, true, nil
		}

		payload := map[string]interface{}{}
		if err := json.Unmarshal(message.Value, &payload); err != nil {
			logger.Errorf("error unmarshalling from kafka - %v", err)
			return nil, 0, true, nil
		}

		return payload, uint64(message.Time.UnixNano()), true, nil
	}
}

// NewWriter mirrors the teacher's components/kafka Terminus, used when a
// SPEC_FULL.md graph needs Kafka as a Sink rather than a Source: it is
// exported here instead of sinks/ since kafka-go's Reader/Writer share
// the same config surface and import.
func NewWriter(v *viper.Viper) func(payload map[string]interface{}) error {
	writer := &kaf.Writer{
		Addr:     kaf.TCP(v.GetStringSlice("brokers")...),
		Topic:    v.GetString("topic"),
		Balancer: &kaf.LeastBytes{},
	}

	return func(payload map[string]interface{}) error {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("error marshalling to kafka - %w", err)
		}
		return writer.WriteMessages(context.Background(), kaf.Message{Value: b})
	}
}
