// Package scripting loads a Map/Filter/FlatMap operator functor at
// runtime from Go source text (via yaegi) or a native .so plugin,
// grounded on the teacher's loader.providers.go provider pair.
package scripting

import (
	"fmt"
	"plugin"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	wflow "wflow"
)

// Definition names the symbol a Provider resolves, and (for the yaegi
// provider) the source text defining it.
type Definition struct {
	// Payload is Go source text for the yaegi provider, or a .so path
	// for the plugin provider.
	Payload string
	// Symbol is the exported identifier within Payload to resolve —
	// qualified with its package name for yaegi (e.g. "main.Double").
	Symbol string
}

// Provider resolves a Definition to a Go value — a func matching one of
// wflow's operator functor types.
type Provider interface {
	Load(d *Definition) (interface{}, error)
}

type yaegiProvider struct{}

func (y *yaegiProvider) Load(d *Definition) (interface{}, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("error loading stdlib symbols %w", err)
	}

	if _, err := i.Eval(d.Payload); err != nil {
		return nil, fmt.Errorf("error evaluating script %w", err)
	}

	sym, err := i.Eval(d.Symbol)
	if err != nil {
		return nil, fmt.Errorf("error evaluating symbol %w", err)
	}

	if sym.Kind() != reflect.Func {
		return nil, fmt.Errorf("symbol %s is not of kind func", d.Symbol)
	}

	return sym.Interface(), nil
}

type goPluginProvider struct{}

func (g *goPluginProvider) Load(d *Definition) (interface{}, error) {
	p, err := plugin.Open(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("error opening plugin %w", err)
	}

	sym, err := p.Lookup(d.Symbol)
	if err != nil {
		return nil, fmt.Errorf("error looking up symbol %w", err)
	}

	return sym, nil
}

var providers = map[string]Provider{
	"yaegi":  &yaegiProvider{},
	"plugin": &goPluginProvider{},
}

// RegisterProvider lets a host program add its own loading strategy,
// keyed by the kind name passed to LoadMap, LoadFilter, LoadFlatMap or
// LoadAggregator.
func RegisterProvider(name string, p Provider) {
	providers[name] = p
}

func load(kind string, d *Definition) (interface{}, error) {
	p, ok := providers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown script provider %q", kind)
	}
	return p.Load(d)
}

// LoadMap resolves d via kind ("yaegi" or "plugin") into a
// wflow.MapFunc[map[string]interface{}, map[string]interface{}].
func LoadMap(kind string, d *Definition) (wflow.MapFunc[map[string]interface{}, map[string]interface{}], error) {
	sym, err := load(kind, d)
	if err != nil {
		return nil, err
	}
	fn, ok := sym.(func(map[string]interface{}) (map[string]interface{}, error))
	if !ok {
		return nil, fmt.Errorf("symbol %s does not match MapFunc's signature", d.Symbol)
	}
	return fn, nil
}

// LoadFilter resolves d into a wflow.FilterFunc[map[string]interface{}].
func LoadFilter(kind string, d *Definition) (wflow.FilterFunc[map[string]interface{}], error) {
	sym, err := load(kind, d)
	if err != nil {
		return nil, err
	}
	fn, ok := sym.(func(map[string]interface{}) (bool, error))
	if !ok {
		return nil, fmt.Errorf("symbol %s does not match FilterFunc's signature", d.Symbol)
	}
	return fn, nil
}

// LoadFlatMap resolves d into a
// wflow.FlatMapFunc[map[string]interface{}, map[string]interface{}].
func LoadFlatMap(kind string, d *Definition) (wflow.FlatMapFunc[map[string]interface{}, map[string]interface{}], error) {
	sym, err := load(kind, d)
	if err != nil {
		return nil, err
	}
	fn, ok := sym.(func(map[string]interface{}, wflow.Shipper[map[string]interface{}]) error)
	if !ok {
		return nil, fmt.Errorf("symbol %s does not match FlatMapFunc's signature", d.Symbol)
	}
	return fn, nil
}

// AggregatorDefinition names the Zero and Add symbols making up a
// wflow.Aggregator[map[string]interface{}, map[string]interface{}].
type AggregatorDefinition struct {
	Zero *Definition
	Add  *Definition
}

// LoadAggregator resolves an AggregatorDefinition into a
// wflow.Aggregator[map[string]interface{}, map[string]interface{}] for
// use with a map[string]interface{}-payloaded windowed operator.
func LoadAggregator(kind string, d *AggregatorDefinition) (wflow.Aggregator[map[string]interface{}, map[string]interface{}], error) {
	zeroSym, err := load(kind, d.Zero)
	if err != nil {
		return wflow.Aggregator[map[string]interface{}, map[string]interface{}]{}, err
	}
	zero, ok := zeroSym.(func() map[string]interface{})
	if !ok {
		return wflow.Aggregator[map[string]interface{}, map[string]interface{}]{}, fmt.Errorf("symbol %s does not match Aggregator.Zero's signature", d.Zero.Symbol)
	}

	addSym, err := load(kind, d.Add)
	if err != nil {
		return wflow.Aggregator[map[string]interface{}, map[string]interface{}]{}, err
	}
	add, ok := addSym.(func(map[string]interface{}, map[string]interface{}) map[string]interface{})
	if !ok {
		return wflow.Aggregator[map[string]interface{}, map[string]interface{}]{}, fmt.Errorf("symbol %s does not match Aggregator.Add's signature", d.Add.Symbol)
	}

	return wflow.Aggregator[map[string]interface{}, map[string]interface{}]{Zero: zero, Add: add}, nil
}
