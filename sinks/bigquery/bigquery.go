// Package bigquery adapts cloud.google.com/go/bigquery into a
// wflow.Pusher, grounded on the teacher's components/bigquery Terminus.
package bigquery

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/spf13/viper"

	wflow "wflow"
)

type row map[string]interface{}

func (r row) Save() (map[string]bigquery.Value, string, error) {
	out := map[string]bigquery.Value{}
	for k, v := range r {
		out[k] = v
	}
	return out, "", nil
}

// New builds a Pusher that inserts each fired-window payload as one row
// via bigquery.Inserter.Put, the same call the teacher's Terminus uses.
//
// Expected keys: project_id, dataset, table.
func New(v *viper.Viper) (wflow.Pusher[map[string]interface{}], error) {
	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, v.GetString("project_id"))
	if err != nil {
		return nil, err
	}

	inserter := client.Dataset(v.GetString("dataset")).Table(v.GetString("table")).Inserter()

	return func(payload map[string]interface{}) error {
		return inserter.Put(ctx, row(payload))
	}, nil
}
