// Package graphconfig decodes a declarative YAML/JSON document into a
// running wflow.Graph, grounded on the teacher's loader.go/loader/loader.go
// (StreamSerialization/VertexSerialization, mapstructure-based decode of
// a generic map into a typed config, PluginProvider dispatch).
//
// Unlike the programmatic Graph/Pipe API, graphconfig only builds linear
// source → stage* → sink pipelines over map[string]interface{} payloads —
// the same Data shape the teacher's connectors speak — so every stage's
// functor can be named and resolved generically. Branching graphs
// (Split/Select/Merge) and windowed stages still require the programmatic
// API; this is a scope decision (open question, see DESIGN.md), not an
// oversight.
package graphconfig

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	wflow "wflow"
	"wflow/scripting"
	"wflow/sinks/bigquery"
	"wflow/sinks/cassandra"
	"wflow/sources/kafka"
	"wflow/sources/pubsub"
	"wflow/sources/redis"
	"wflow/sources/sqs"
)

// ConnectorConfig names one external-system adapter and its settings —
// the same (kind, settings-map) shape the teacher's components/* package
// constructors take as a *viper.Viper.
type ConnectorConfig struct {
	Kind   string                 `mapstructure:"kind" yaml:"kind"`
	Config map[string]interface{} `mapstructure:"config" yaml:"config"`
}

func (c ConnectorConfig) viper() *viper.Viper {
	v := viper.New()
	for k, val := range c.Config {
		v.Set(k, val)
	}
	return v
}

// StageConfig is one Map/Filter/FlatMap operator in the pipeline.
type StageConfig struct {
	ID              string `mapstructure:"id" yaml:"id"`
	Type            string `mapstructure:"type" yaml:"type"` // "map", "filter", "flatmap"
	Parallelism     int    `mapstructure:"parallelism" yaml:"parallelism"`
	KeyByField      string `mapstructure:"key_by_field" yaml:"key_by_field"`
	OutputBatchSize int    `mapstructure:"output_batch_size" yaml:"output_batch_size"`
	ScriptProvider  string `mapstructure:"script_provider" yaml:"script_provider"` // "yaegi" or "plugin"
	Script          string `mapstructure:"script" yaml:"script"`                  // source text (yaegi) or .so path (plugin)
	Symbol          string `mapstructure:"symbol" yaml:"symbol"`
}

func (s StageConfig) option() *wflow.Option[map[string]interface{}] {
	opt := wflow.NewOption[map[string]interface{}]().WithName(s.ID)
	if s.Parallelism > 0 {
		opt = opt.WithParallelism(s.Parallelism)
	}
	if s.OutputBatchSize > 0 {
		opt = opt.WithOutputBatchSize(s.OutputBatchSize)
	}
	if s.KeyByField != "" {
		opt = opt.WithKeyBy(wflow.FieldKey[map[string]interface{}](s.KeyByField))
	}
	return opt
}

func (s StageConfig) definition() *scripting.Definition {
	return &scripting.Definition{Payload: s.Script, Symbol: s.Symbol}
}

// Config is the root of a declarative graph document.
type Config struct {
	Name          string            `mapstructure:"name" yaml:"name"`
	ExecutionMode string            `mapstructure:"execution_mode" yaml:"execution_mode"` // "default", "deterministic", "probabilistic"
	Source        ConnectorConfig   `mapstructure:"source" yaml:"source"`
	SourceID      string            `mapstructure:"source_id" yaml:"source_id"`
	Stages        []StageConfig     `mapstructure:"stages" yaml:"stages"`
	Sink          ConnectorConfig   `mapstructure:"sink" yaml:"sink"`
	SinkID        string            `mapstructure:"sink_id" yaml:"sink_id"`
}

// Decode parses a YAML document into a Config, two-stage the way the
// teacher's loader.go does: unmarshal into a generic map first, then
// mapstructure.Decode into the typed struct, so callers can also build a
// Config directly from a map[string]interface{} obtained elsewhere (e.g.
// a config-management API) via DecodeMap.
func Decode(body []byte) (*Config, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("graphconfig: yaml unmarshal: %w", err)
	}
	return DecodeMap(raw)
}

// DecodeMap mapstructure-decodes a generic map into a Config.
func DecodeMap(raw map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	if err := mapstructure.Decode(raw, cfg); err != nil {
		return nil, fmt.Errorf("graphconfig: mapstructure decode: %w", err)
	}
	return cfg, nil
}

func executionMode(name string) wflow.ExecutionMode {
	switch name {
	case "deterministic":
		return wflow.Deterministic
	case "probabilistic":
		return wflow.Probabilistic
	default:
		return wflow.Default
	}
}

func buildSource(c ConnectorConfig, logger *logrus.Logger) (wflow.Puller[map[string]interface{}], error) {
	v := c.viper()
	switch c.Kind {
	case "kafka":
		return kafka.New(v, logger), nil
	case "pubsub":
		return pubsub.New(v, logger)
	case "redis":
		return redis.New(v, logger)
	case "sqs":
		return sqs.New(v, logger)
	default:
		return nil, fmt.Errorf("graphconfig: unknown source kind %q", c.Kind)
	}
}

func buildSink(c ConnectorConfig) (wflow.Pusher[map[string]interface{}], error) {
	v := c.viper()
	switch c.Kind {
	case "bigquery":
		return bigquery.New(v)
	case "cassandra":
		return cassandra.New(v)
	case "kafka":
		write := kafka.NewWriter(v)
		return wflow.Pusher[map[string]interface{}](write), nil
	default:
		return nil, fmt.Errorf("graphconfig: unknown sink kind %q", c.Kind)
	}
}

// Load assembles a wflow.Graph from cfg: a Source connector, each
// configured Stage in order (its script resolved via scripting.LoadMap/
// LoadFilter/LoadFlatMap), and a Sink connector.
func Load(cfg *Config, logger *logrus.Logger) (*wflow.Graph, error) {
	pull, err := buildSource(cfg.Source, logger)
	if err != nil {
		return nil, err
	}
	push, err := buildSink(cfg.Sink)
	if err != nil {
		return nil, err
	}

	g := wflow.NewGraph(cfg.Name,
		wflow.WithExecutionMode(executionMode(cfg.ExecutionMode)),
		wflow.WithLogger(logger),
	)

	sourceID := cfg.SourceID
	if sourceID == "" {
		sourceID = "source"
	}
	pipe := wflow.AddSource(g, sourceID, pull, wflow.NewOption[map[string]interface{}]())

	for _, stage := range cfg.Stages {
		opt := stage.option()
		switch stage.Type {
		case "map":
			fn, err := scripting.LoadMap(stage.ScriptProvider, stage.definition())
			if err != nil {
				return nil, fmt.Errorf("graphconfig: stage %q: %w", stage.ID, err)
			}
			pipe = wflow.Chain(pipe, stage.ID, fn, opt)
		case "filter":
			fn, err := scripting.LoadFilter(stage.ScriptProvider, stage.definition())
			if err != nil {
				return nil, fmt.Errorf("graphconfig: stage %q: %w", stage.ID, err)
			}
			pipe = wflow.ChainFilter(pipe, stage.ID, fn, opt)
		case "flatmap":
			fn, err := scripting.LoadFlatMap(stage.ScriptProvider, stage.definition())
			if err != nil {
				return nil, fmt.Errorf("graphconfig: stage %q: %w", stage.ID, err)
			}
			pipe = wflow.ChainFlatMap(pipe, stage.ID, fn, opt)
		default:
			return nil, fmt.Errorf("graphconfig: stage %q: unknown type %q", stage.ID, stage.Type)
		}
	}

	sinkID := cfg.SinkID
	if sinkID == "" {
		sinkID = "sink"
	}
	wflow.ChainSink(pipe, sinkID, push, wflow.NewOption[map[string]interface{}]())

	return g, nil
}
