package queue

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// celFilter wraps a compiled CEL program gating handler dispatch. When
// disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

// newCELFilter compiles the expression. Variables available to expressions:
//
//	id      - the store-assigned message id
//	values  - the payload fields (map of string to string)
//	key     - the ordering key, "" when absent
//	now_ms  - current time in ms for windowed filters
func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("values", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("key", cel.StringType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against a message. When disabled, returns
// true. Evaluation errors exclude the message.
func (f celFilter) Eval(id string, payload store.Payload) bool {
	if !f.enabled {
		return true
	}
	values := map[string]string(payload)
	if values == nil {
		values = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":     id,
		"values": values,
		"key":    payload.OrderingKey(),
		"now_ms": time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
