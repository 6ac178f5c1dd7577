package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// Notes attached to flows whose evidence is incomplete.
const (
	NoteNoCallerResolved  = "no explicit caller resolved — function-stack evidence limited to current function"
	NoteNoSource          = "no source candidate found in file"
	NoteSanitizerRecorded = "sanitizer candidates recorded, effectiveness not verified"
	NoteGuardRecorded     = "guard candidates recorded, coverage not verified"
	NoteChainGap          = "variable chain does not reach the sink line"
)

const maxOrphanChain = 4

// BackwardTracer searches outward from a sink for a source, widening one tier
// at a time.
type BackwardTracer struct {
	index      *SymbolIndex
	sources    *hitIndex
	sanitizers *hitIndex
	guards     *hitIndex
}

// NewBackwardTracer creates a tracer over a finished scan and its symbol index.
func NewBackwardTracer(index *SymbolIndex, scan ScanResult) *BackwardTracer {
	return &BackwardTracer{
		index:      index,
		sources:    newHitIndex(scan.AllHits(m.FamilySource)),
		sanitizers: newHitIndex(scan.Sanitizers),
		guards:     newHitIndex(scan.Guards),
	}
}

// candidate is a source accepted by one tier together with the frames from
// the source's function down to the sink's function.
type candidate struct {
	source m.Hit
	tier   m.Tier
	stack  []m.FunctionContext
}

// Trace builds the flow for one sink. It never fails: missing evidence is
// expressed through the tier, the stack and the notes.
func (t *BackwardTracer) Trace(sink m.Hit, depth int) m.Flow {
	if depth < 1 {
		depth = 1
	}

	sinkCtx := t.index.ResolveHit(sink)
	sinkHit := sink

	flow := m.Flow{
		Direction:     m.Backward,
		TaintKind:     sink.TaintKind,
		Sink:          &sinkHit,
		FunctionStack: []m.FunctionContext{sinkCtx},
		VariableChain: []string{},
		Guards:        []m.GuardRef{},
		Sanitizers:    []m.SanitizerRef{},
		Notes:         []string{},
	}

	cand, ok := t.sameFunction(sink, sinkCtx)
	if !ok {
		cand, ok = t.sameFile(sink, sinkCtx)
	}

	if !ok {
		cand, ok = t.callers(sinkCtx, depth)
	}

	if !ok {
		cand, ok = t.nearest(sink, sinkCtx)
	}

	if !ok {
		sinkIDs := identifiers(t.index.Line(sink.Path, sink.Line))
		if len(sinkIDs) > maxOrphanChain {
			sinkIDs = sinkIDs[:maxOrphanChain]
		}

		flow.VariableChain = append(flow.VariableChain, sinkIDs...)
		flow.Guards = collectGuards(t.guards, flow.FunctionStack, sink.Line)
		flow.Notes = append(flow.Notes, NoteNoSource)

		return flow
	}

	source := cand.source
	flow.Source = &source
	flow.Tier = cand.tier
	flow.FunctionStack = cand.stack

	chain, reaches := frameChain(t.index, cand.source, cand.stack, sink)
	flow.VariableChain = append(flow.VariableChain, chain...)
	flow.ChainReaches = reaches

	flow.Guards = collectGuards(t.guards, flow.FunctionStack, sink.Line)
	flow.Sanitizers = t.sanitizersOf(cand, sink)

	if cand.tier == m.TierFallback {
		flow.Notes = append(flow.Notes, NoteNoCallerResolved)
	} else {
		flow.Notes = append(flow.Notes, "source resolved at tier "+cand.tier.String())
	}

	if len(flow.Sanitizers) > 0 {
		flow.Notes = append(flow.Notes, NoteSanitizerRecorded)
	}

	if len(flow.Guards) > 0 {
		flow.Notes = append(flow.Notes, NoteGuardRecorded)
	}

	if !reaches {
		flow.Notes = append(flow.Notes, NoteChainGap)
	}

	return flow
}

// sameFunction picks the nearest source at or before the sink inside the
// sink's own function.
func (t *BackwardTracer) sameFunction(sink m.Hit, sinkCtx m.FunctionContext) (candidate, bool) {
	src, ok := t.lastSourceIn(sinkCtx, sink.Line)
	if !ok {
		return candidate{}, false
	}

	return candidate{source: src, tier: m.TierSameFunction, stack: []m.FunctionContext{sinkCtx}}, true
}

// sameFile follows direct call relationships inside the sink's file: first
// callers of the sink's function, then functions the sink's function calls
// before the sink line.
func (t *BackwardTracer) sameFile(sink m.Hit, sinkCtx m.FunctionContext) (candidate, bool) {
	for _, cs := range t.index.CallersOf(sinkCtx) {
		if cs.Path != sink.Path || cs.Caller == sinkCtx {
			continue
		}

		if src, ok := t.lastSourceIn(cs.Caller, cs.Line); ok {
			return candidate{source: src, tier: m.TierSameFile, stack: []m.FunctionContext{cs.Caller, sinkCtx}}, true
		}
	}

	for _, cs := range t.index.CallsFrom(sinkCtx) {
		if cs.Line > sink.Line {
			break
		}

		for _, callee := range t.index.Definitions(sink.Path, cs.Callee) {
			if callee == sinkCtx {
				continue
			}

			if src, ok := t.lastSourceIn(callee, callee.EndLine); ok {
				return candidate{source: src, tier: m.TierSameFile, stack: []m.FunctionContext{callee, sinkCtx}}, true
			}
		}
	}

	return candidate{}, false
}

type callerPath struct {
	fc    m.FunctionContext
	stack []m.FunctionContext
}

// callers walks the caller graph breadth first, up to depth hops.
func (t *BackwardTracer) callers(sinkCtx m.FunctionContext, depth int) (candidate, bool) {
	visited := map[string]struct{}{keyOf(sinkCtx): {}}
	frontier := []callerPath{{fc: sinkCtx, stack: []m.FunctionContext{sinkCtx}}}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []callerPath

		for _, node := range frontier {
			for _, cs := range t.index.CallersOf(node.fc) {
				caller := cs.Caller
				if _, seen := visited[keyOf(caller)]; seen {
					continue
				}

				visited[keyOf(caller)] = struct{}{}

				stack := make([]m.FunctionContext, 0, len(node.stack)+1)
				stack = append(stack, caller)
				stack = append(stack, node.stack...)

				if src, ok := t.lastSourceIn(caller, cs.Line); ok {
					return candidate{source: src, tier: m.TierCallers, stack: stack}, true
				}

				next = append(next, callerPath{fc: caller, stack: stack})
			}
		}

		frontier = next
	}

	return candidate{}, false
}

// nearest falls back to the source closest to the sink anywhere in its file.
// Ties go to the earlier line.
func (t *BackwardTracer) nearest(sink m.Hit, sinkCtx m.FunctionContext) (candidate, bool) {
	var (
		best  m.Hit
		found bool
	)

	for _, h := range t.sources.inFile(sink.Path) {
		if !found || abs(h.Line-sink.Line) < abs(best.Line-sink.Line) {
			best, found = h, true
		}
	}

	if !found {
		return candidate{}, false
	}

	return candidate{source: best, tier: m.TierFallback, stack: []m.FunctionContext{sinkCtx}}, true
}

// lastSourceIn returns the latest source hit inside fc at or before limit.
func (t *BackwardTracer) lastSourceIn(fc m.FunctionContext, limit int) (m.Hit, bool) {
	end := min(limit, fc.EndLine)
	hits := t.sources.between(fc.Path, fc.StartLine, end)

	for i := len(hits) - 1; i >= 0; i-- {
		if t.index.ResolveHit(hits[i]) == fc {
			return hits[i], true
		}
	}

	return m.Hit{}, false
}

// sanitizersOf collects sanitizers of the sink's kind on the way from the
// source to the sink, both ends included.
func (t *BackwardTracer) sanitizersOf(cand candidate, sink m.Hit) []m.SanitizerRef {
	out := []m.SanitizerRef{}
	seen := make(map[m.Location]struct{})
	src := cand.source

	if len(cand.stack) == 1 && src.Path == sink.Path {
		from, to := src.Line, sink.Line
		if from > to {
			from, to = to, from
		}

		return append(out, collectSanitizers(t.sanitizers, sink.Path, from, to, sink.TaintKind, seen)...)
	}

	for i, fc := range cand.stack {
		from, to := fc.StartLine, fc.EndLine
		if i == 0 && fc.Path == src.Path {
			from = src.Line
		}

		if i == len(cand.stack)-1 {
			to = sink.Line
		}

		out = append(out, collectSanitizers(t.sanitizers, fc.Path, from, to, sink.TaintKind, seen)...)
	}

	return out
}

// TraceAll traces every sink in parallel. Sinks are processed in severity,
// path, line, category order and duplicate sink identities are traced once,
// so flow ids are stable across runs.
func (t *BackwardTracer) TraceAll(ctx context.Context, sinks []m.Hit, depth, workers int) ([]m.Flow, error) {
	ordered := uniqueSinks(sinks)

	if workers <= 0 {
		workers = defaultWorkers
	}

	flows := make([]m.Flow, len(ordered))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, sink := range ordered {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			flows[i] = t.Trace(sink, depth)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("backward trace: %w", err)
	}

	for i := range flows {
		flows[i].ID = fmt.Sprintf("BWD-%04d", i+1)
	}

	slog.Debug("backward tracing done", "sinks", len(ordered), "depth", depth)

	return flows, nil
}

func uniqueSinks(sinks []m.Hit) []m.Hit {
	seen := make(map[m.SinkID]struct{}, len(sinks))
	out := make([]m.Hit, 0, len(sinks))

	for _, s := range sinks {
		if _, dup := seen[s.SinkID()]; dup {
			continue
		}

		seen[s.SinkID()] = struct{}{}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}

		if a.Path != b.Path {
			return a.Path < b.Path
		}

		if a.Line != b.Line {
			return a.Line < b.Line
		}

		return a.Category < b.Category
	})

	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}
