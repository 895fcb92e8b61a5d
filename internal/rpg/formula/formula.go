// Package formula evaluates named, operator-editable arithmetic expressions
// against a caller-supplied variable map. Every numeric gameplay outcome
// (damage, crit, yields, durations) flows through here.
//
// Resolution order: stored expression for the name, then the built-in
// default, then the neutral constant 1.0. Evaluation is total — any lex,
// parse, or runtime failure falls through the chain instead of surfacing an
// error. Callers clamp results into domain-valid ranges; the engine has no
// notion of those bounds.
package formula

import (
	"log"
	"math"
	"math/rand"
	"sync"
)

// Source resolves a stored expression for a formula name. Stored formulas
// are written by an external admin surface; this engine only reads them.
type Source interface {
	Expression(name string) (string, bool)
}

type Engine struct {
	src Source // may be nil
	log *log.Logger

	randMu sync.Mutex
	rand   func() float64

	mu    sync.Mutex
	cache map[string]cached // keyed by expression text
}

type cached struct {
	root node
	err  error
}

func New(src Source, logger *log.Logger) *Engine {
	return &Engine{
		src:   src,
		log:   logger,
		rand:  rand.Float64,
		cache: map[string]cached{},
	}
}

// SetRand replaces the uniform source used by rand(). Tests pin draws here.
func (e *Engine) SetRand(fn func() float64) {
	e.randMu.Lock()
	e.rand = fn
	e.randMu.Unlock()
}

func (e *Engine) draw() float64 {
	e.randMu.Lock()
	fn := e.rand
	e.randMu.Unlock()
	return fn()
}

// Evaluate never fails. A stored expression that does not parse or evaluate
// falls back to the built-in default, and then to 1.0.
func (e *Engine) Evaluate(name string, vars map[string]float64) float64 {
	if e.src != nil {
		if expr, ok := e.src.Expression(name); ok {
			if v, err := e.eval(expr, vars); err == nil {
				return v
			} else if e.log != nil {
				e.log.Printf("formula %q: stored expression failed: %v", name, err)
			}
		}
	}
	if expr, ok := Defaults[name]; ok {
		if v, err := e.eval(expr, vars); err == nil {
			return v
		} else if e.log != nil {
			e.log.Printf("formula %q: default expression failed: %v", name, err)
		}
	}
	return 1.0
}

func (e *Engine) eval(expr string, vars map[string]float64) (float64, error) {
	e.mu.Lock()
	c, ok := e.cache[expr]
	e.mu.Unlock()
	if !ok {
		root, err := parse(expr)
		c = cached{root: root, err: err}
		e.mu.Lock()
		e.cache[expr] = c
		e.mu.Unlock()
	}
	if c.err != nil {
		return 0, c.err
	}
	v, err := c.root.eval(&evalEnv{vars: vars, rand: e.draw})
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNonFinite
	}
	return v, nil
}

type nonFiniteError struct{}

func (nonFiniteError) Error() string { return "non-finite result" }

var errNonFinite = nonFiniteError{}

// Eval evaluates a single expression outside the named-formula chain.
// Exposed for admin-side expression linting and tests.
func Eval(expr string, vars map[string]float64, randFn func() float64) (float64, error) {
	root, err := parse(expr)
	if err != nil {
		return 0, err
	}
	if randFn == nil {
		randFn = rand.Float64
	}
	v, err := root.eval(&evalEnv{vars: vars, rand: randFn})
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNonFinite
	}
	return v, nil
}

// Clamp bounds v into [lo, hi]; used by callers for domain ranges such as
// crit chance.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
