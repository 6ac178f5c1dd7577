package domain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"golang.org/x/sync/errgroup"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// NoteForwardLowConfidence is carried by every forward flow.
const NoteForwardLowConfidence = "forward flow: same-file window scan, lower confidence than a backward trace"

const (
	minForwardWindow      = 80
	forwardWindowPerDepth = 120
	maxForwardSinks       = 8
	maxUnknownRiskCalls   = 8
)

// riskyCallPattern flags calls to file, network and process-like identifiers.
var riskyCallPattern = regexp.MustCompile(
	`(?i)\b((?:exec|system|spawn|popen|query|render|deserialize|unmarshal|template|load|open|write|http|fetch|dial|connect|request|send)\w*)\s*\(`)

// DefaultWindow derives the forward scan window from the trace depth.
func DefaultWindow(depth int) int {
	return max(minForwardWindow, forwardWindowPerDepth*depth)
}

// ForwardTracer scans ahead of each source for reachable sinks and for
// suspicious calls that no sink rule covers. It favours recall.
type ForwardTracer struct {
	index      *SymbolIndex
	sinks      *hitIndex
	allSinks   *hitIndex
	sanitizers *hitIndex
	guards     *hitIndex
}

// NewForwardTracer creates a forward tracer. Only sinks of the selected kinds
// become candidates, but lines matched by any sink rule are never reported as
// unknown risk calls.
func NewForwardTracer(index *SymbolIndex, scan ScanResult) *ForwardTracer {
	var enabled []m.Hit
	for _, g := range scan.Sinks {
		enabled = append(enabled, g.Hits...)
	}

	return &ForwardTracer{
		index:      index,
		sinks:      newHitIndex(enabled),
		allSinks:   newHitIndex(scan.AllHits(m.FamilySink)),
		sanitizers: newHitIndex(scan.Sanitizers),
		guards:     newHitIndex(scan.Guards),
	}
}

// Trace scans window lines after source.
func (t *ForwardTracer) Trace(source m.Hit, window int) m.Flow {
	if window <= 0 {
		window = minForwardWindow
	}

	src := source
	srcCtx := t.index.ResolveHit(source)

	flow := m.Flow{
		Direction:        m.Forward,
		TaintKind:        m.KindAny,
		Source:           &src,
		Tier:             m.TierFallback,
		FunctionStack:    []m.FunctionContext{srcCtx},
		VariableChain:    []string{},
		Guards:           []m.GuardRef{},
		Sanitizers:       []m.SanitizerRef{},
		Notes:            []string{NoteForwardLowConfidence},
		CandidateSinks:   []m.Hit{},
		UnknownRiskCalls: []m.CallSite{},
	}

	last := source.Line + window
	sourceLine := t.index.Line(source.Path, source.Line)

	candidates := t.reachableSinks(source, last)
	if len(candidates) > 0 {
		sink := candidates[0]
		flow.Sink = &sink
		flow.TaintKind = sink.TaintKind
		flow.CandidateSinks = append(flow.CandidateSinks, candidates[1:]...)

		sinkCtx := t.index.ResolveHit(sink)

		switch {
		case sinkCtx == srcCtx:
			flow.Tier = m.TierSameFunction
		case t.linked(source, srcCtx, sinkCtx, sink.Line):
			flow.Tier = m.TierSameFile
			flow.FunctionStack = append(flow.FunctionStack, sinkCtx)
		default:
			flow.Notes = append(flow.Notes, NoteNoCallerResolved)
		}

		chain, reaches := frameChain(t.index, source, flow.FunctionStack, sink)
		flow.VariableChain = append(flow.VariableChain, chain...)
		flow.ChainReaches = reaches

		flow.Guards = collectGuards(t.guards, flow.FunctionStack, sink.Line)
		flow.Sanitizers = append(flow.Sanitizers,
			collectSanitizers(t.sanitizers, source.Path, source.Line, sink.Line, sink.TaintKind, map[m.Location]struct{}{})...)

		if !reaches {
			flow.Notes = append(flow.Notes, NoteChainGap)
		}
	} else {
		flow.VariableChain = append(flow.VariableChain, newChainTracker(sourceLine).chain...)
		flow.Guards = collectGuards(t.guards, flow.FunctionStack, last)
	}

	flow.UnknownRiskCalls = append(flow.UnknownRiskCalls, t.unknownRiskCalls(source, last)...)

	if len(flow.Sanitizers) > 0 {
		flow.Notes = append(flow.Notes, NoteSanitizerRecorded)
	}

	return flow
}

// linked reports whether a direct call joins the source's function to the
// sink's function: the source's function calls it after the source line, or
// it calls the source's function before the sink line.
func (t *ForwardTracer) linked(source m.Hit, srcCtx, sinkCtx m.FunctionContext, sinkLine int) bool {
	if sinkCtx.IsGlobal() {
		return false
	}

	for _, cs := range t.index.CallsFrom(srcCtx) {
		if cs.Line > source.Line && t.defines(source.Path, cs.Callee, sinkCtx) {
			return true
		}
	}

	if srcCtx.IsGlobal() {
		return false
	}

	for _, cs := range t.index.CallsFrom(sinkCtx) {
		if cs.Line > sinkLine {
			break
		}

		if t.defines(source.Path, cs.Callee, srcCtx) {
			return true
		}
	}

	return false
}

func (t *ForwardTracer) defines(path m.Path, name string, fc m.FunctionContext) bool {
	for _, def := range t.index.Definitions(path, name) {
		if def == fc {
			return true
		}
	}

	return false
}

// reachableSinks returns the enabled sinks in [source line, last], nearest
// first, one per sink identity.
func (t *ForwardTracer) reachableSinks(source m.Hit, last int) []m.Hit {
	var out []m.Hit

	seen := make(map[m.SinkID]struct{})

	for _, h := range t.sinks.between(source.Path, source.Line, last) {
		if _, dup := seen[h.SinkID()]; dup {
			continue
		}

		seen[h.SinkID()] = struct{}{}
		out = append(out, h)

		if len(out) == maxForwardSinks {
			break
		}
	}

	return out
}

func (t *ForwardTracer) unknownRiskCalls(source m.Hit, last int) []m.CallSite {
	var out []m.CallSite

	lines := t.index.Lines(source.Path)

	for n := source.Line + 1; n <= min(last, len(lines)); n++ {
		if t.allSinks.onLine(source.Path, n) {
			continue
		}

		line := lines[n-1]

		match := riskyCallPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		caller := t.index.Resolve(source.Path, n)
		if !caller.IsGlobal() && caller.StartLine == n {
			continue
		}

		out = append(out, m.CallSite{Path: source.Path, Line: n, Callee: match[1], Caller: caller, Snippet: Snippet(line)})

		if len(out) == maxUnknownRiskCalls {
			break
		}
	}

	return out
}

// TraceAll traces every source in parallel. Sources sharing a location are
// traced once; flow ids follow source order.
func (t *ForwardTracer) TraceAll(ctx context.Context, sources []m.Hit, window, workers int) ([]m.Flow, error) {
	var ordered []m.Hit

	seen := make(map[m.Location]struct{}, len(sources))

	for _, s := range sources {
		if _, dup := seen[s.Location()]; dup {
			continue
		}

		seen[s.Location()] = struct{}{}
		ordered = append(ordered, s)
	}

	if workers <= 0 {
		workers = defaultWorkers
	}

	flows := make([]m.Flow, len(ordered))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, src := range ordered {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			flows[i] = t.Trace(src, window)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("forward trace: %w", err)
	}

	for i := range flows {
		flows[i].ID = fmt.Sprintf("FWD-%04d", i+1)
	}

	slog.Debug("forward tracing done", "sources", len(ordered), "window", window)

	return flows, nil
}
