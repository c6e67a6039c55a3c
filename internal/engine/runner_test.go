package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btnflow/btnflow/internal/actions"
	"github.com/btnflow/btnflow/pkg/schema"
)

func newTestRunner(t *testing.T, reg *actions.Registry, cfg RunnerConfig) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewRunner(StaticRegistry{Reg: reg}, cfg, logger)
	require.NoError(t, err)
	return r
}

func run(t *testing.T, r *Runner, g *schema.WorkflowGraph, trigger schema.Trigger) *schema.RunResult {
	t.Helper()
	res, err := r.Run(context.Background(), g, trigger)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// --- happy path ---

func TestRunLinearChainPassesOutputs(t *testing.T) {
	produce := handler("produce", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"greeting": "hello"}, nil
	})
	var received atomic.Value
	consume := handler("consume", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		received.Store(call.Inputs["text"])
		return map[string]any{"new_text": call.Inputs["text"].(string) + " world"}, nil
	})
	r := newTestRunner(t, testRegistry(t, produce, consume), RunnerConfig{})

	g := graph(
		[]*schema.NodeSpec{node("p", "produce", nil), node("c", "consume", nil)},
		edge("p", "greeting", "c", "text"),
	)
	res := run(t, r, g, schema.Trigger{})

	assert.True(t, res.Success)
	assert.Nil(t, res.Error)
	assert.Equal(t, "hello", received.Load())
	require.NotNil(t, res.Aggregate.NewText)
	assert.Equal(t, "hello world", *res.Aggregate.NewText)

	p := res.Node("p")
	require.NotNil(t, p)
	assert.Equal(t, schema.NodeStatusSuccess, p.Status)
	assert.Equal(t, map[string]any{"greeting": "hello"}, p.Outputs)

	c := res.Node("c")
	require.NotNil(t, c)
	require.NotNil(t, c.Control)
	assert.Equal(t, "hello world", *c.Control.NewText)
	assert.Empty(t, c.Outputs, "control keys are split out of data outputs")
}

func TestRunNodeOutputsLandInVariables(t *testing.T) {
	produce := handler("produce", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"value": "42"}, nil
	})
	echo := handler("echo", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"echoed": call.Inputs["from_arena"]}, nil
	})
	r := newTestRunner(t, testRegistry(t, produce, echo), RunnerConfig{})

	// No edge: the downstream node reads the arena through a template.
	g := graph(
		[]*schema.NodeSpec{
			node("first", "produce", nil),
			node("second", "echo", map[string]any{"from_arena": "{{ variables.first.value }}"}),
		},
		edge("first", "value", "second", "ignored"),
	)
	res := run(t, r, g, schema.Trigger{})

	require.True(t, res.Success)
	assert.Equal(t, "42", res.Node("second").Outputs["echoed"])
	assert.Equal(t, map[string]any{"value": "42"}, res.Variables["first"])
}

func TestRunConfigTemplatesRenderFromTrigger(t *testing.T) {
	var got atomic.Value
	echo := handler("echo", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		got.Store(call.Inputs["who"])
		return nil, nil
	})
	r := newTestRunner(t, testRegistry(t, echo), RunnerConfig{})

	g := graph([]*schema.NodeSpec{
		node("n", "echo", map[string]any{"who": "user {{ runtime.user_id }}"}),
	})
	run(t, r, g, schema.Trigger{Runtime: map[string]any{"user_id": "u-7"}})

	assert.Equal(t, "user u-7", got.Load())
}

func TestRunConfigTemplatesSeeEdgeInputs(t *testing.T) {
	weather := handler("weather", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"temp": "5"}, nil
	})
	show := handler("show", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"new_text": call.Inputs["text"]}, nil
	})
	r := newTestRunner(t, testRegistry(t, weather, show), RunnerConfig{})

	// The config template for "text" references the edge-fed "city" input.
	g := graph(
		[]*schema.NodeSpec{
			node("x", "weather", nil),
			node("y", "show", map[string]any{"text": "{{ inputs.city }}°"}),
		},
		edge("x", "temp", "y", "city"),
	)
	res := run(t, r, g, schema.Trigger{})

	require.True(t, res.Success)
	require.NotNil(t, res.Aggregate.NewText)
	assert.Equal(t, "5°", *res.Aggregate.NewText)
}

func TestRunAppliesDeclaredDefaults(t *testing.T) {
	var got atomic.Value
	h := handlerWithPorts("defaulted",
		[]schema.PortSpec{
			{Name: "mode", Type: "string", Default: "plain"},
			{Name: "optional", Type: "string"},
		},
		nil,
		func(ctx context.Context, call actions.Call) (map[string]any, error) {
			got.Store(call.Inputs)
			return nil, nil
		})
	r := newTestRunner(t, testRegistry(t, h), RunnerConfig{})

	run(t, r, graph([]*schema.NodeSpec{node("n", "defaulted", nil)}), schema.Trigger{})

	inputs := got.Load().(map[string]any)
	assert.Equal(t, "plain", inputs["mode"])
	_, present := inputs["optional"]
	assert.False(t, present, "optional inputs without defaults stay absent")
}

// --- failure and skip semantics ---

func TestRunFailedNodeSkipsDependentsButNotSiblings(t *testing.T) {
	boom := handler("boom", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return nil, schema.NewError(schema.ErrCodeHandler, "kaput")
	})
	ok := handler("ok", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})
	r := newTestRunner(t, testRegistry(t, boom, ok), RunnerConfig{})

	g := graph(
		[]*schema.NodeSpec{
			node("fail", "boom", nil),
			node("child", "ok", nil),
			node("island", "ok", nil),
		},
		edge("fail", "x", "child", "x"),
	)
	res := run(t, r, g, schema.Trigger{})

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, schema.ErrCodeHandler, res.Error.Code)
	assert.Equal(t, "fail", res.Error.NodeID)

	assert.Equal(t, schema.NodeStatusFailed, res.Node("fail").Status)
	assert.Equal(t, schema.NodeStatusSkipped, res.Node("child").Status)
	assert.Equal(t, schema.NodeStatusSuccess, res.Node("island").Status)
	assert.Same(t, res.Node("fail"), res.FirstFailure())
}

func TestRunSkipCascades(t *testing.T) {
	ok := handler("ok", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"v": 1}, nil
	})
	r := newTestRunner(t, testRegistry(t, ok), RunnerConfig{})

	g := graph(
		[]*schema.NodeSpec{
			node("a", "ok", map[string]any{schema.ConditionKey: false}),
			node("b", "ok", nil),
			node("c", "ok", nil),
		},
		edge("a", "v", "b", "v"),
		edge("b", "v", "c", "v"),
	)
	res := run(t, r, g, schema.Trigger{})

	assert.True(t, res.Success, "skips are not failures")
	assert.Equal(t, schema.NodeStatusSkipped, res.Node("a").Status)
	assert.Equal(t, schema.NodeStatusSkipped, res.Node("b").Status)
	assert.Equal(t, schema.NodeStatusSkipped, res.Node("c").Status)
}

func TestRunDefaultFeedsInputWhenUpstreamSkipped(t *testing.T) {
	producer := handlerWithPorts("producer",
		nil,
		[]schema.PortSpec{{Name: "value", Type: "string"}},
		func(ctx context.Context, call actions.Call) (map[string]any, error) {
			return map[string]any{"value": "live"}, nil
		})
	var got atomic.Value
	consumer := handlerWithPorts("consumer",
		[]schema.PortSpec{{Name: "value", Type: "string", Required: true, Default: "fallback"}},
		nil,
		func(ctx context.Context, call actions.Call) (map[string]any, error) {
			got.Store(call.Inputs["value"])
			return nil, nil
		})
	r := newTestRunner(t, testRegistry(t, producer, consumer), RunnerConfig{})

	g := graph(
		[]*schema.NodeSpec{
			node("p", "producer", map[string]any{schema.ConditionKey: false}),
			node("c", "consumer", nil),
		},
		edge("p", "value", "c", "value"),
	)
	res := run(t, r, g, schema.Trigger{})

	// The wired feed never ran, but the declared default keeps the
	// dependent alive.
	assert.True(t, res.Success)
	assert.Equal(t, schema.NodeStatusSkipped, res.Node("p").Status)
	assert.Equal(t, schema.NodeStatusSuccess, res.Node("c").Status)
	assert.Equal(t, "fallback", got.Load())
}

func TestRunUndeclaredOutputKeysDropped(t *testing.T) {
	h := handlerWithPorts("tidy",
		nil,
		[]schema.PortSpec{{Name: "kept", Type: "string"}},
		func(ctx context.Context, call actions.Call) (map[string]any, error) {
			return map[string]any{"kept": "yes", "stray": "no", "new_text": "msg"}, nil
		})
	r := newTestRunner(t, testRegistry(t, h), RunnerConfig{})

	res := run(t, r, graph([]*schema.NodeSpec{node("n", "tidy", nil)}), schema.Trigger{})

	n := res.Node("n")
	assert.Equal(t, map[string]any{"kept": "yes"}, n.Outputs)
	require.NotNil(t, n.Control)
	assert.Equal(t, "msg", *n.Control.NewText)
}

func TestRunMissingUpstreamOutput(t *testing.T) {
	quiet := handler("quiet", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"other": 1}, nil
	})
	ok := handler("ok", nil)
	r := newTestRunner(t, testRegistry(t, quiet, ok), RunnerConfig{})

	g := graph(
		[]*schema.NodeSpec{node("p", "quiet", nil), node("c", "ok", nil)},
		edge("p", "expected", "c", "value"),
	)
	res := run(t, r, g, schema.Trigger{})

	assert.False(t, res.Success)
	c := res.Node("c")
	assert.Equal(t, schema.NodeStatusFailed, c.Status)
	assert.Equal(t, schema.ErrCodeMissingUpstream, c.Error.Code)
}

func TestRunMissingRequiredInput(t *testing.T) {
	h := handlerWithPorts("strict",
		[]schema.PortSpec{{Name: "needed", Type: "string", Required: true}},
		nil, nil)
	r := newTestRunner(t, testRegistry(t, h), RunnerConfig{})

	res := run(t, r, graph([]*schema.NodeSpec{node("n", "strict", nil)}), schema.Trigger{})

	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeMissingInput, res.Node("n").Error.Code)
}

func TestRunHandlerPanicBecomesFailure(t *testing.T) {
	ragey := handler("ragey", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		panic("nope")
	})
	r := newTestRunner(t, testRegistry(t, ragey), RunnerConfig{})

	res := run(t, r, graph([]*schema.NodeSpec{node("n", "ragey", nil)}), schema.Trigger{})

	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeHandler, res.Node("n").Error.Code)
}

func TestRunNodeTimeout(t *testing.T) {
	slow := handler("slow", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		select {
		case <-time.After(2 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	r := newTestRunner(t, testRegistry(t, slow), RunnerConfig{NodeTimeout: 20 * time.Millisecond})

	res := run(t, r, graph([]*schema.NodeSpec{node("n", "slow", nil)}), schema.Trigger{})

	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeTimeout, res.Node("n").Error.Code)
}

func TestRunBuildErrorsReturnNoResult(t *testing.T) {
	r := newTestRunner(t, testRegistry(t, handler("noop", nil)), RunnerConfig{})

	g := graph([]*schema.NodeSpec{node("a", "missing.action", nil)})
	res, err := r.Run(context.Background(), g, schema.Trigger{})

	assert.Nil(t, res)
	assert.Equal(t, schema.ErrCodeConfig, errCode(t, err))
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(t, testRegistry(t, handler("noop", nil)), RunnerConfig{})
	g := graph([]*schema.NodeSpec{node("a", "noop", nil)})

	_, err := r.Run(ctx, g, schema.Trigger{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCancelled, schema.AsFlowError(err, schema.ErrCodeExecution).Code)
}

// --- parallelism ---

func TestRunLevelNodesRunConcurrently(t *testing.T) {
	gate := make(chan struct{})
	var arrivals atomic.Int32
	meet := handler("meet", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		if arrivals.Add(1) == 2 {
			close(gate)
		}
		select {
		case <-gate:
			return nil, nil
		case <-time.After(2 * time.Second):
			return nil, schema.NewError(schema.ErrCodeTimeout, "peer never arrived")
		}
	})
	r := newTestRunner(t, testRegistry(t, meet), RunnerConfig{Parallelism: 2})

	g := graph([]*schema.NodeSpec{node("a", "meet", nil), node("b", "meet", nil)})
	res := run(t, r, g, schema.Trigger{})

	assert.True(t, res.Success)
}

// Exercised under the race detector: a wide level where half the nodes
// append outputs to the variables arena while the other half render
// templates and conditions over it.
func TestRunConcurrentArenaWritesAndReads(t *testing.T) {
	seed := handler("seed", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{"value": "1"}, nil
	})
	write := handler("write", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		time.Sleep(time.Millisecond)
		return map[string]any{"value": "w"}, nil
	})
	read := handler("read", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		time.Sleep(time.Millisecond)
		return map[string]any{"seen": call.Inputs["echo"]}, nil
	})
	r := newTestRunner(t, testRegistry(t, seed, write, read), RunnerConfig{Parallelism: 8})

	nodes := []*schema.NodeSpec{node("seed", "seed", nil)}
	var edges []schema.Edge
	for i := 0; i < 20; i++ {
		w := fmt.Sprintf("w%02d", i)
		nodes = append(nodes, node(w, "write", nil))
		edges = append(edges, edge("seed", "value", w, "in"))

		rd := fmt.Sprintf("r%02d", i)
		nodes = append(nodes, node(rd, "read", map[string]any{
			schema.ConditionKey: "{{ variables.seed.value }}",
			"echo":              "{{ variables.seed.value }}",
		}))
		edges = append(edges, edge("seed", "value", rd, "in"))
	}

	res := run(t, r, graph(nodes, edges...), schema.Trigger{})

	require.True(t, res.Success)
	for i := 0; i < 20; i++ {
		assert.Equal(t, "1", res.Node(fmt.Sprintf("r%02d", i)).Outputs["seen"])
	}
	assert.Len(t, res.Variables, 41, "seed plus every level-two node")
}

// --- preview ---

func TestRunPreviewPropagates(t *testing.T) {
	var preview atomic.Bool
	spy := handler("spy", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		preview.Store(call.Preview)
		return nil, nil
	})
	r := newTestRunner(t, testRegistry(t, spy), RunnerConfig{})
	g := graph([]*schema.NodeSpec{node("n", "spy", nil)})

	run(t, r, g, schema.Trigger{Preview: true})
	assert.True(t, preview.Load())

	_, err := r.DryRun(context.Background(), g, schema.Trigger{})
	require.NoError(t, err)
	assert.True(t, preview.Load(), "dry run forces preview")
}

// --- aggregation ---

func TestRunAggregateLastWriterWinsAndOverridesConcat(t *testing.T) {
	first := handler("first", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{
			"marker":           "done",
			"new_text":         "draft",
			"next_menu_id":     "menu-a",
			"button_overrides": []any{map[string]any{"target": "b1", "text": "one"}},
		}, nil
	})
	second := handler("second", func(ctx context.Context, call actions.Call) (map[string]any, error) {
		return map[string]any{
			"new_text":         "final",
			"button_title":     "pressed",
			"button_overrides": []any{map[string]any{"target": "b2", "text": "two"}},
		}, nil
	})
	r := newTestRunner(t, testRegistry(t, first, second), RunnerConfig{})

	g := graph(
		[]*schema.NodeSpec{node("a", "first", nil), node("b", "second", nil)},
		edge("a", "marker", "b", "ignored"),
	)
	res := run(t, r, g, schema.Trigger{})
	require.True(t, res.Success)

	require.NotNil(t, res.Aggregate.NewText)
	assert.Equal(t, "final", *res.Aggregate.NewText)
	assert.Equal(t, "menu-a", res.Aggregate.NextMenuID, "earlier value survives when later node is silent")
	assert.Equal(t, "pressed", res.Aggregate.ButtonTitle)
	require.Len(t, res.Aggregate.ButtonOverrides, 2)
	assert.Equal(t, "b1", res.Aggregate.ButtonOverrides[0]["target"])
	assert.Equal(t, "b2", res.Aggregate.ButtonOverrides[1]["target"])
}
