package scripting

import "testing"

const doubleScript = `
package main

func Double(m map[string]interface{}) (map[string]interface{}, error) {
	m["value"] = m["value"].(int) * 2
	return m, nil
}
`

// Test_LoadMap_Yaegi checks the yaegi provider path: evaluate Go source
// text at runtime and resolve its exported function as a MapFunc.
func Test_LoadMap_Yaegi(t *testing.T) {
	fn, err := LoadMap("yaegi", &Definition{Payload: doubleScript, Symbol: "main.Double"})
	if err != nil {
		t.Fatalf("LoadMap returned error: %v", err)
	}

	out, err := fn(map[string]interface{}{"value": 21})
	if err != nil {
		t.Fatalf("loaded func returned error: %v", err)
	}
	if out["value"] != 42 {
		t.Fatalf("value = %v, want 42", out["value"])
	}
}

const isEvenScript = `
package main

func IsEven(m map[string]interface{}) (bool, error) {
	return m["value"].(int)%2 == 0, nil
}
`

// Test_LoadFilter_Yaegi checks the FilterFunc path through the same
// provider.
func Test_LoadFilter_Yaegi(t *testing.T) {
	fn, err := LoadFilter("yaegi", &Definition{Payload: isEvenScript, Symbol: "main.IsEven"})
	if err != nil {
		t.Fatalf("LoadFilter returned error: %v", err)
	}

	keep, err := fn(map[string]interface{}{"value": 4})
	if err != nil || !keep {
		t.Fatalf("fn(4) = (%v, %v), want (true, nil)", keep, err)
	}
	keep, err = fn(map[string]interface{}{"value": 5})
	if err != nil || keep {
		t.Fatalf("fn(5) = (%v, %v), want (false, nil)", keep, err)
	}
}

// Test_LoadMap_UnknownProvider checks the error path for an unregistered
// provider name.
func Test_LoadMap_UnknownProvider(t *testing.T) {
	if _, err := LoadMap("cobol", &Definition{}); err == nil {
		t.Fatal("expected an error for an unknown provider, got nil")
	}
}

// Test_LoadMap_SignatureMismatch checks that a symbol resolving to the
// wrong function signature is rejected rather than silently type-asserted
// away with a panic.
func Test_LoadMap_SignatureMismatch(t *testing.T) {
	script := `
package main

func NotAMapFunc() int { return 1 }
`
	if _, err := LoadMap("yaegi", &Definition{Payload: script, Symbol: "main.NotAMapFunc"}); err == nil {
		t.Fatal("expected a signature-mismatch error, got nil")
	}
}
