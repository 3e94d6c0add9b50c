package graphconfig

import (
	"testing"

	"github.com/sirupsen/logrus"
)

const doc = `
name: test_graph
execution_mode: default
source:
  kind: kafka
  config:
    brokers: ["localhost:9092"]
    topic: in
    group_id: test
stages:
  - id: double
    type: map
    parallelism: 1
    script_provider: yaegi
    script: |
      package main

      func Double(m map[string]interface{}) (map[string]interface{}, error) {
        m["value"] = m["value"].(int) * 2
        return m, nil
      }
    symbol: main.Double
sink:
  kind: kafka
  config:
    brokers: ["localhost:9092"]
    topic: out
`

// Test_Decode checks the two-stage yaml→map→mapstructure decode produces
// the expected Config, including a nested stage's script fields.
func Test_Decode(t *testing.T) {
	cfg, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if cfg.Name != "test_graph" {
		t.Fatalf("Name = %q, want test_graph", cfg.Name)
	}
	if cfg.Source.Kind != "kafka" {
		t.Fatalf("Source.Kind = %q, want kafka", cfg.Source.Kind)
	}
	if len(cfg.Stages) != 1 || cfg.Stages[0].Type != "map" {
		t.Fatalf("Stages = %+v, want one map stage", cfg.Stages)
	}
	if cfg.Sink.Kind != "kafka" {
		t.Fatalf("Sink.Kind = %q, want kafka", cfg.Sink.Kind)
	}
}

// Test_Load_Kafka constructs a Graph from doc. kafka.NewReader/NewWriter
// only record config and start their background goroutines lazily, so
// this never dials a real broker — it only exercises graphconfig's own
// wiring (source → scripted map stage → sink).
func Test_Load_Kafka(t *testing.T) {
	cfg, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	g, err := Load(cfg, logrus.New())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if g == nil {
		t.Fatal("Load returned a nil Graph")
	}
}

// Test_Load_UnknownSourceKind checks the error path for a source kind
// with no registered connector.
func Test_Load_UnknownSourceKind(t *testing.T) {
	cfg := &Config{
		Name:   "bad",
		Source: ConnectorConfig{Kind: "carrier_pigeon"},
		Sink:   ConnectorConfig{Kind: "kafka"},
	}
	if _, err := Load(cfg, logrus.New()); err == nil {
		t.Fatal("expected an error for an unknown source kind, got nil")
	}
}
