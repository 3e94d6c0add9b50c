// Package cassandra adapts github.com/gocql/gocql into a wflow.Pusher,
// grounded on the teacher's components/cassandra Terminus.
package cassandra

import (
	"github.com/gocql/gocql"
	"github.com/spf13/viper"

	wflow "wflow"
)

// New builds a Pusher that runs v's configured query once per payload,
// binding query with the values found under v's "keys" in payload order
// — the same positional-bind shape the teacher's Terminus uses.
//
// Expected keys: hosts ([]string), keyspace, query, keys ([]string).
func New(v *viper.Viper) (wflow.Pusher[map[string]interface{}], error) {
	cluster := gocql.NewCluster(v.GetStringSlice("hosts")...)
	cluster.Keyspace = v.GetString("keyspace")
	cluster.Consistency = gocql.Quorum

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	query := v.GetString("query")
	keys := v.GetStringSlice("keys")

	return func(payload map[string]interface{}) error {
		values := make([]interface{}, len(keys))
		for i, k := range keys {
			values[i] = payload[k]
		}
		return session.Query(query, values...).Exec()
	}, nil
}
