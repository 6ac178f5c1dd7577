package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

func TestDefaultWindow(t *testing.T) {
	assert.Equal(t, 120, DefaultWindow(1))
	assert.Equal(t, 360, DefaultWindow(3))
	assert.Equal(t, 80, DefaultWindow(0))
}

func TestForwardTracer_Trace(t *testing.T) {
	f := scanFixture(t, map[string]string{"app.py": handlerFixture(map[int]string{
		25: "    safe_cmd = shlex.quote(user_input)",
		45: "    requests.get(user_input)",
		50: "    cfg = load_settings(cmd)",
	})})

	tracer := NewForwardTracer(f.index, f.scan)
	flow := tracer.Trace(f.sourceAt(t, "app.py", 10), DefaultWindow(3))

	require.NotNil(t, flow.Sink)
	assert.Equal(t, m.Forward, flow.Direction)
	assert.Equal(t, 40, flow.Sink.Line, "nearest sink is primary")
	assert.Equal(t, m.KindCmd, flow.TaintKind)
	assert.Equal(t, m.TierSameFunction, flow.Tier)
	assert.True(t, flow.ChainReaches)
	assert.Contains(t, flow.Notes, NoteForwardLowConfidence)

	require.Len(t, flow.CandidateSinks, 1)
	assert.Equal(t, 45, flow.CandidateSinks[0].Line)

	require.Len(t, flow.Sanitizers, 1)
	assert.Equal(t, 25, flow.Sanitizers[0].Location.Line)

	require.Len(t, flow.UnknownRiskCalls, 1)
	assert.Equal(t, 50, flow.UnknownRiskCalls[0].Line)
	assert.Equal(t, "load_settings", flow.UnknownRiskCalls[0].Callee)
}

func TestForwardTracer_WindowLimitsReach(t *testing.T) {
	f := scanFixture(t, map[string]string{"app.py": handlerFixture(nil)})

	flow := NewForwardTracer(f.index, f.scan).Trace(f.sourceAt(t, "app.py", 10), 20)

	assert.Nil(t, flow.Sink)
	assert.Equal(t, m.KindAny, flow.TaintKind)
	assert.Empty(t, flow.CandidateSinks)
	assert.Equal(t, []string{"user_input"}, flow.VariableChain)
}

func TestForwardTracer_OnlySelectedKindsBecomeSinks(t *testing.T) {
	f := scanFixture(t, map[string]string{
		"app.py": "def h():\n    url = request.args.get(\"u\")\n    requests.get(url)\n    open_socket(url)\n",
	}, m.KindCmd)

	flow := NewForwardTracer(f.index, f.scan).Trace(f.sourceAt(t, "app.py", 2), 80)

	assert.Nil(t, flow.Sink, "network sinks are not selected")

	require.Len(t, flow.UnknownRiskCalls, 1, "lines matched by any sink rule are not unknown calls")
	assert.Equal(t, 4, flow.UnknownRiskCalls[0].Line)
	assert.Equal(t, "open_socket", flow.UnknownRiskCalls[0].Callee)
}

func TestForwardTracer_SkipsDefinitionLines(t *testing.T) {
	f := scanFixture(t, map[string]string{
		"app.py": "data = sys.argv[1]\n\ndef write_report(x):\n    return x\n",
	})

	flow := NewForwardTracer(f.index, f.scan).Trace(f.sourceAt(t, "app.py", 1), 80)

	assert.Empty(t, flow.UnknownRiskCalls)
}

func TestForwardTracer_CrossFunctionSink(t *testing.T) {
	f := scanFixture(t, map[string]string{"a.py": callerFixture})

	flow := NewForwardTracer(f.index, f.scan).Trace(f.sourceAt(t, "a.py", 2), 80)

	require.NotNil(t, flow.Sink)
	assert.Equal(t, 7, flow.Sink.Line)
	assert.Equal(t, m.TierSameFile, flow.Tier, "read_input calls process")
	require.Len(t, flow.FunctionStack, 2)
	assert.Equal(t, "read_input", flow.FunctionStack[0].Name)
	assert.Equal(t, "process", flow.FunctionStack[1].Name)
	assert.True(t, flow.ChainReaches)
	assert.Equal(t, []string{"data", "name", "target"}, flow.VariableChain)
	assert.NotContains(t, flow.Notes, NoteNoCallerResolved)
}

func TestForwardTracer_CalleeReturnsSource(t *testing.T) {
	f := scanFixture(t, map[string]string{
		"a.py": "def load():\n    return request.args.get(\"p\")\n\ndef run():\n    cmd = load()\n    os.system(cmd)\n",
	})

	flow := NewForwardTracer(f.index, f.scan).Trace(f.sourceAt(t, "a.py", 2), 80)

	require.NotNil(t, flow.Sink)
	assert.Equal(t, m.TierSameFile, flow.Tier)
	require.Len(t, flow.FunctionStack, 2)
	assert.Equal(t, "run", flow.FunctionStack[1].Name)
	assert.True(t, flow.ChainReaches)
}

// unrelatedFixture reads input in one function and runs a constant command
// in another function that never calls or is called by the first.
const unrelatedFixture = `def read_it():
    data = request.args.get("x")
    return len(data)

def unrelated():
    data = "ls"
    os.system(data)
`

func TestForwardTracer_UnrelatedFunctionStaysSingleFrame(t *testing.T) {
	f := scanFixture(t, map[string]string{"app.py": unrelatedFixture})

	flow := NewForwardTracer(f.index, f.scan).Trace(f.sourceAt(t, "app.py", 2), 80)

	require.NotNil(t, flow.Sink)
	assert.Equal(t, 7, flow.Sink.Line)
	assert.Equal(t, m.TierFallback, flow.Tier)
	require.Len(t, flow.FunctionStack, 1)
	assert.Equal(t, "read_it", flow.FunctionStack[0].Name)
	assert.False(t, flow.MultiFrame())
	assert.Contains(t, flow.Notes, NoteNoCallerResolved)
}

func TestForwardTracer_TraceAll(t *testing.T) {
	f := scanFixture(t, map[string]string{
		"a.py":   callerFixture,
		"app.py": handlerFixture(nil),
	})

	sources := f.scan.AllHits(m.FamilySource)
	sources = append(sources, sources[0])

	flows, err := NewForwardTracer(f.index, f.scan).TraceAll(context.Background(), sources, 120, 2)
	require.NoError(t, err)
	require.Len(t, flows, 2)

	assert.Equal(t, "FWD-0001", flows[0].ID)
	assert.Equal(t, m.Path("a.py"), flows[0].Source.Path)
	assert.Equal(t, "FWD-0002", flows[1].ID)
	assert.Equal(t, m.Path("app.py"), flows[1].Source.Path)
}
