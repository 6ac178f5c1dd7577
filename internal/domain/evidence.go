package domain

import (
	"regexp"
	"sort"
	"strings"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

const minIdentifierLen = 3

var identifierPattern = regexp.MustCompile(`\b[A-Za-z_]\w*\b`)

// identifiers returns the distinct identifiers of text in order of appearance.
// Keywords and names shorter than three characters are dropped.
func identifiers(text string) []string {
	return identifiersOf(text, minIdentifierLen)
}

// names returns every non-keyword identifier of text. Matching against
// tracked names uses it so short parameters bound by a call stay visible.
func names(text string) []string {
	return identifiersOf(text, 1)
}

func identifiersOf(text string, minLen int) []string {
	var out []string

	seen := make(map[string]struct{})

	for _, id := range identifierPattern.FindAllString(text, -1) {
		if len(id) < minLen || isKeyword(id) {
			continue
		}

		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

// splitAssignment splits "lhs = rhs" at the first top-level assignment
// operator. Comparisons and keyword arguments inside parentheses are not
// assignments.
func splitAssignment(line string) (string, string, bool) {
	depth := 0

	for i := 0; i < len(line); i++ {
		switch c := line[i]; c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case '"', '\'', '`':
			// assignments never start inside a string literal on the left side
			if depth == 0 && strings.TrimSpace(line[:i]) == "" {
				return "", "", false
			}
		case '=':
			if depth > 0 {
				continue
			}

			if i+1 < len(line) && (line[i+1] == '=' || line[i+1] == '>') {
				i++
				continue
			}

			if i > 0 && strings.ContainsRune("=!<>", rune(line[i-1])) {
				continue
			}

			lhs := strings.TrimRight(line[:i], ":+-*/|&%^.")

			return lhs, line[i+1:], true
		}
	}

	return "", "", false
}

// chainTracker follows identifiers from a source line through assignments,
// call bindings and return values towards a sink line.
type chainTracker struct {
	tracked map[string]struct{}
	chain   []string
}

func newChainTracker(sourceLine string) *chainTracker {
	c := &chainTracker{tracked: make(map[string]struct{})}

	seed := identifiers(sourceLine)
	if lhs, _, ok := splitAssignment(sourceLine); ok {
		if ids := identifiers(lhs); len(ids) > 0 {
			seed = ids
		}
	}

	c.track(seed)

	return c
}

func (c *chainTracker) track(ids []string) {
	for _, id := range ids {
		if _, ok := c.tracked[id]; ok {
			continue
		}

		c.tracked[id] = struct{}{}
		c.chain = append(c.chain, id)
	}
}

// propagate tracks the left side of an assignment whose right side uses a
// tracked identifier.
func (c *chainTracker) propagate(line string) {
	lhs, rhs, ok := splitAssignment(line)
	if !ok {
		return
	}

	if intersects(names(rhs), c.tracked) {
		c.track(identifiers(lhs))
	}
}

// bindCall tracks the parameters of callee when line passes a tracked
// identifier to it. Parameters of any length are tracked.
func (c *chainTracker) bindCall(line string, callee m.FunctionContext, defLine string) {
	if callee.IsGlobal() || !callsName(line, callee.Name) {
		return
	}

	var args []string

	for _, id := range names(line) {
		if id != callee.Name {
			args = append(args, id)
		}
	}

	if !intersects(args, c.tracked) {
		return
	}

	for _, id := range names(defLine) {
		if id != callee.Name {
			c.track([]string{id})
		}
	}
}

// carry marks a function name as carrying tainted data through its return value.
func (c *chainTracker) carry(fc m.FunctionContext) {
	if !fc.IsGlobal() {
		c.tracked[fc.Name] = struct{}{}
	}
}

// reaches reports whether the tracked identifiers meet the sink line. When
// they do not, identifiers shared directly by the source and sink lines still
// count.
func (c *chainTracker) reaches(sourceLine, sinkLine string) ([]string, bool) {
	if intersects(names(sinkLine), c.tracked) {
		return c.chain, true
	}

	sinkIDs := identifiers(sinkLine)

	sinkSet := make(map[string]struct{}, len(sinkIDs))
	for _, id := range sinkIDs {
		sinkSet[id] = struct{}{}
	}

	var overlap []string

	for _, id := range identifiers(sourceLine) {
		if _, ok := sinkSet[id]; ok {
			overlap = append(overlap, id)
		}
	}

	if len(overlap) > 0 {
		return overlap, true
	}

	return c.chain, false
}

// frameChain infers the variable chain from src through the frames of stack
// to sink. The first frame holds src and the last holds sink.
func frameChain(index *SymbolIndex, src m.Hit, stack []m.FunctionContext, sink m.Hit) ([]string, bool) {
	sourceLine := index.Line(src.Path, src.Line)
	sinkLine := index.Line(sink.Path, sink.Line)

	if len(stack) <= 1 {
		if src.Path != sink.Path || src.Line >= sink.Line {
			return newChainTracker(sourceLine).reaches(sourceLine, sinkLine)
		}

		return variableChain(sourceLine, lineRange(index.Lines(sink.Path), src.Line+1, sink.Line-1), sinkLine)
	}

	tracker := newChainTracker(sourceLine)

	for i, fc := range stack {
		lines := index.Lines(fc.Path)

		from, to := fc.StartLine+1, fc.EndLine
		if i == 0 {
			from = src.Line + 1
		}

		if i == len(stack)-1 {
			to = sink.Line - 1
		}

		var next m.FunctionContext
		if i+1 < len(stack) {
			next = stack[i+1]
		}

		for _, line := range lineRange(lines, from, to) {
			tracker.propagate(line)

			if i+1 < len(stack) {
				tracker.bindCall(line, next, index.Line(next.Path, next.StartLine))
			}
		}

		tracker.carry(fc)
	}

	return tracker.reaches(sourceLine, sinkLine)
}

func callsName(line, name string) bool {
	for _, match := range callPattern.FindAllStringSubmatch(line, -1) {
		if match[1] == name {
			return true
		}
	}

	return false
}

// variableChain is the single-function form of chainTracker: the source line,
// the lines strictly between, then the sink line.
func variableChain(sourceLine string, intermediate []string, sinkLine string) ([]string, bool) {
	c := newChainTracker(sourceLine)
	for _, line := range intermediate {
		c.propagate(line)
	}

	return c.reaches(sourceLine, sinkLine)
}

func intersects(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}

	return false
}

// hitIndex gives tracers line-ordered access to hits per file.
type hitIndex struct {
	byFile map[m.Path][]m.Hit
}

func newHitIndex(hits []m.Hit) *hitIndex {
	idx := &hitIndex{byFile: make(map[m.Path][]m.Hit)}

	for _, h := range hits {
		idx.byFile[h.Path] = append(idx.byFile[h.Path], h)
	}

	for _, list := range idx.byFile {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Line < list[j].Line })
	}

	return idx
}

// between returns hits of path with from <= line <= to, in line order.
func (x *hitIndex) between(path m.Path, from, to int) []m.Hit {
	var out []m.Hit

	for _, h := range x.byFile[path] {
		if h.Line < from {
			continue
		}

		if h.Line > to {
			break
		}

		out = append(out, h)
	}

	return out
}

func (x *hitIndex) inFile(path m.Path) []m.Hit {
	return x.byFile[path]
}

func (x *hitIndex) onLine(path m.Path, line int) bool {
	return len(x.between(path, line, line)) > 0
}

// collectGuards returns guard references found inside frames. The last frame
// is cut at limit.
func collectGuards(guards *hitIndex, frames []m.FunctionContext, limit int) []m.GuardRef {
	out := []m.GuardRef{}
	seen := make(map[m.Location]struct{})

	for i, fc := range frames {
		end := fc.EndLine
		if i == len(frames)-1 && limit > 0 && limit < end {
			end = limit
		}

		for _, h := range guards.between(fc.Path, fc.StartLine, end) {
			loc := h.Location()
			if _, dup := seen[loc]; dup {
				continue
			}

			seen[loc] = struct{}{}
			out = append(out, m.GuardRef{Location: loc, ConditionText: h.Snippet})
		}
	}

	return out
}

// collectSanitizers returns sanitizer references of a kind inside [from, to].
func collectSanitizers(sanitizers *hitIndex, path m.Path, from, to int, kind m.TaintKind, seen map[m.Location]struct{}) []m.SanitizerRef {
	var out []m.SanitizerRef

	for _, h := range sanitizers.between(path, from, to) {
		if !h.TaintKind.Covers(kind) {
			continue
		}

		loc := h.Location()
		if _, dup := seen[loc]; dup {
			continue
		}

		seen[loc] = struct{}{}
		out = append(out, m.SanitizerRef{Location: loc, Snippet: h.Snippet})
	}

	return out
}

func lineRange(lines []string, from, to int) []string {
	if from < 1 {
		from = 1
	}

	if to > len(lines) {
		to = len(lines)
	}

	if from > to {
		return nil
	}

	return lines[from-1 : to]
}
