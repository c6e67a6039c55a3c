package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btnflow/btnflow/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

// --- Basic evaluation ---

func TestGoJQ_Identity(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"name": "btnflow"}

	out, err := e.Evaluate(context.Background(), ".name", data)
	require.NoError(t, err)
	assert.Equal(t, "btnflow", out)
}

func TestGoJQ_ResponseExtraction(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"response": map[string]any{
			"json": map[string]any{
				"weather": map[string]any{"temp": 21.5, "city": "Berlin"},
			},
		},
	}

	out, err := e.Evaluate(context.Background(), ".response.json.weather.temp", data)
	require.NoError(t, err)
	assert.Equal(t, 21.5, out)
}

func TestGoJQ_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"items": []any{
			map[string]any{"id": "a"},
			map[string]any{"id": "b"},
		},
	}

	out, err := e.Evaluate(context.Background(), ".items[].id", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_NoOutputIsNil(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".missing // empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_IntegersNormalized(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"count": 7}

	out, err := e.Evaluate(context.Background(), ".count * 2", data)
	require.NoError(t, err)
	assert.Equal(t, float64(14), out)
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{1, 2, 3}}

	out, err := e.EvaluateAll(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

// --- Sandboxing ---

func TestGoJQ_EnvAccessBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

// --- Errors ---

func TestGoJQ_EmptyExpression(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	fe := schema.AsFlowError(err, schema.ErrCodeExecution)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[", nil)
	require.Error(t, err)
	fe := schema.AsFlowError(err, schema.ErrCodeExecution)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".a + 1", map[string]any{"a": "str"})
	require.Error(t, err)
	fe := schema.AsFlowError(err, schema.ErrCodeExecution)
	assert.Equal(t, schema.ErrCodeExecution, fe.Code)
}

// --- Cache and concurrency ---

func TestGoJQ_CacheReuse(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".a", map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), ".a", map[string]any{"a": 2})
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestGoJQ_ConcurrentEvaluate(t *testing.T) {
	e := NewGoJQEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), ".x", map[string]any{"x": "v"})
			assert.NoError(t, err)
			assert.Equal(t, "v", out)
		}()
	}
	wg.Wait()
}
