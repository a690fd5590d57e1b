// Package expression evaluates the side-effect free CEL subset used by
// condition nodes and string templates: literals, dotted field access,
// comparisons and boolean operators. Identifiers resolve against a Scope at
// evaluation time, so node outputs are addressable by node id without
// declaring them up front.
package expression

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Scope resolves top-level identifiers
type Scope map[string]interface{}

// Program is a compiled expression, safe for concurrent use
type Program struct {
	src string
	prg cel.Program
}

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func celEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv()
	})
	return env, envErr
}

// Compile parses an expression. Identifiers are not checked against a
// declaration list; they are looked up in the Scope passed to Eval.
func Compile(src string) (*Program, error) {
	e, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	ast, iss := e.Parse(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, iss.Err())
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	return &Program{src: src, prg: prg}, nil
}

// String returns the source text
func (p *Program) String() string { return p.src }

// Eval evaluates the program against a scope. An expression that reads a
// missing field or variable evaluates to nil.
func (p *Program) Eval(s Scope) (interface{}, error) {
	act := make(map[string]interface{}, len(s))
	for k, v := range s {
		act[k] = plain(v)
	}

	out, _, err := p.prg.Eval(act)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to evaluate %q: %w", p.src, err)
	}
	return native(out), nil
}

// EvalBool evaluates the program and reduces the result to its truthiness
func (p *Program) EvalBool(s Scope) (bool, error) {
	v, err := p.Eval(s)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Eval compiles and evaluates src in one step
func Eval(src string, s Scope) (interface{}, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Eval(s)
}

// EvalBool compiles src and evaluates it as a condition
func EvalBool(src string, s Scope) (bool, error) {
	p, err := Compile(src)
	if err != nil {
		return false, err
	}
	return p.EvalBool(s)
}

// Truthy: nil, false, zero, empty strings and empty collections are false
func Truthy(v interface{}) bool {
	v = normalize(v)
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func isMissing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such key") || strings.Contains(msg, "no such attribute")
}

// native unwraps a CEL value into a plain Go value
func native(v ref.Val) interface{} {
	if v == nil || v.Type() == types.NullType {
		return nil
	}
	return v.Value()
}

// plain reduces a scope value to the maps, slices and scalars CEL adapts
// natively. Structs and other Go types go through their JSON form.
func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int32, int64, uint, uint32, uint64:
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case map[string]string, []string:
		return t
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}

// normalize maps every numeric representation to float64
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

