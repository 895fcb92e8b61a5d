package formula

import (
	"math"
	"testing"
)

func TestEvalArithmetic(t *testing.T) {
	cases := []struct {
		expr string
		vars map[string]float64
		want float64
	}{
		{"1 + 2 * 3", nil, 7},
		{"(1 + 2) * 3", nil, 9},
		{"10 / 4", nil, 2.5},
		{"10 % 3", nil, 1},
		{"-2 * -3", nil, 6},
		{"strength * 0.5 + 5", map[string]float64{"strength": 20}, 15},
		{"1 < 2", nil, 1},
		{"2 <= 1", nil, 0},
		{"3 == 3", nil, 1},
		{"3 != 3", nil, 0},
		{"1 ? 10 : 20", nil, 10},
		{"0 ? 10 : 20", nil, 20},
		{"2 > 1 ? 5 : 1 ? 6 : 7", nil, 5},
		{"min(3, 1, 2)", nil, 1},
		{"max(3, 9)", nil, 9},
		{"abs(-4)", nil, 4},
		{"round(2.6)", nil, 3},
		{"sqrt(16)", nil, 4},
		{"pow(2, 10)", nil, 1024},
	}
	for _, c := range cases {
		got, err := Eval(c.expr, c.vars, func() float64 { return 0 })
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", c.expr, err)
		}
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("%q: expected %v, got %v", c.expr, c.want, got)
		}
	}
}

func TestEvalRandUsesInjectedSource(t *testing.T) {
	got, err := Eval("5 + rand() * 10", nil, func() float64 { return 0.5 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
}

func TestEvalRejectsBadInput(t *testing.T) {
	bad := []string{
		"",
		"1 +",
		"(1",
		"foo(",
		"1 2",
		"unknown_fn(1)",
		"a @ b",
		"pow(1)",
		"rand(1)",
		"sqrt(-1)",
		"1 / 0",
		"log(0)",
	}
	for _, expr := range bad {
		if _, err := Eval(expr, nil, nil); err == nil {
			t.Fatalf("%q: expected error", expr)
		}
	}
	// Unknown identifiers must not resolve: this is the security boundary.
	if _, err := Eval("os_getenv", nil, nil); err == nil {
		t.Fatalf("expected unknown variable error")
	}
}

type mapSource map[string]string

func (m mapSource) Expression(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func TestEvaluateNeverRaises(t *testing.T) {
	e := New(mapSource{
		"broken":  "1 + * 2",
		"runtime": "1 / (x - x)",
	}, nil)

	// Broken stored expression with no default falls to neutral.
	if got := e.Evaluate("broken", nil); got != 1.0 {
		t.Fatalf("expected neutral 1.0, got %v", got)
	}
	// Runtime failure (division by zero) also falls to neutral.
	if got := e.Evaluate("runtime", map[string]float64{"x": 3}); got != 1.0 {
		t.Fatalf("expected neutral 1.0, got %v", got)
	}
	// Unknown name with no default falls to neutral.
	if got := e.Evaluate("no_such_formula", nil); got != 1.0 {
		t.Fatalf("expected neutral 1.0, got %v", got)
	}
}

func TestEvaluateResolutionOrder(t *testing.T) {
	e := New(mapSource{"player_damage": "42"}, nil)
	if got := e.Evaluate("player_damage", nil); got != 42 {
		t.Fatalf("expected stored expression to win, got %v", got)
	}

	// Broken stored expression falls back to the built-in default.
	e = New(mapSource{"player_damage": ")("}, nil)
	e.SetRand(func() float64 { return 0 })
	vars := map[string]float64{
		"strength": 20, "weapon_damage": 3, "damage_bonus": 0,
		"target_defense": 0, "crit": 0,
	}
	want, err := Eval(Defaults["player_damage"], vars, func() float64 { return 0 })
	if err != nil {
		t.Fatalf("default must evaluate: %v", err)
	}
	if got := e.Evaluate("player_damage", vars); got != want {
		t.Fatalf("expected default %v, got %v", want, got)
	}
}

func TestDefaultsAllParse(t *testing.T) {
	for name, expr := range Defaults {
		if _, err := parse(expr); err != nil {
			t.Fatalf("default %q does not parse: %v", name, err)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(0.9, 0, 0.5); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	if got := Clamp(-1, 0, 0.5); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
