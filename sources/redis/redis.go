// Package redis adapts github.com/gomodule/redigo's pub/sub client into a
// wflow.Puller, grounded on the teacher's subscriptions/redis Subscription.
package redis

import (
	"context"
	"encoding/json"

	rd "github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	wflow "wflow"
)

// New subscribes pool's connection to v's configured channel and returns
// a Puller that blocks on PubSubConn.Receive for the next message,
// mirroring the teacher's subscriptions/redis Read loop.
//
// Expected keys: addr, channel.
func New(v *viper.Viper, logger *logrus.Logger) (wflow.Puller[map[string]interface{}], error) {
	pool := &rd.Pool{
		Dial: func() (rd.Conn, error) {
			return rd.Dial("tcp", v.GetString("addr"))
		},
	}

	psc := &rd.PubSubConn{Conn: pool.Get()}
	if err := psc.Subscribe(v.GetString("channel")); err != nil {
		return nil, err
	}

	var arrivalID uint64
	return func(ctx context.Context) (map[string]interface{}, uint64, bool, error) {
		switch reply := psc.Receive().(type) {
		case rd.Message:
			payload := map[string]interface{}{}
			if err := json.Unmarshal(reply.Data, &payload); err != nil {
				logger.Errorf("error unmarshalling from redis - %v", err)
				return nil, 0, true, nil
			}
			arrivalID++
			return payload, arrivalID, true, nil
		case error:
			logger.Errorf("error reading from redis - %v", reply)
			return nil, 0, true, nil
		default:
			return nil, 0, true, nil
		}
	}, nil
}
