package domain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"taintaudit.dev/pkg/taintaudit/internal/adapter"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

const tabWidth = 4

// keywords are never treated as function or variable names.
var keywords = map[string]struct{}{
	"if": {}, "for": {}, "while": {}, "switch": {}, "catch": {}, "return": {}, "new": {}, "def": {},
	"func": {}, "fn": {}, "class": {}, "sizeof": {}, "typeof": {}, "else": {}, "elif": {}, "try": {},
	"with": {}, "function": {}, "await": {}, "yield": {}, "not": {}, "and": {}, "var": {}, "let": {},
	"const": {}, "true": {}, "false": {}, "none": {}, "null": {}, "nil": {}, "self": {}, "this": {},
	"import": {}, "from": {}, "case": {}, "defer": {}, "print": {}, "assert": {}, "lambda": {},
}

func isKeyword(name string) bool {
	_, ok := keywords[strings.ToLower(name)]
	return ok
}

// DefinitionDetector recognizes definition-like lines. Implementations may
// be swapped for real per-language parsers without touching the tracers.
type DefinitionDetector interface {
	// DetectDefinition returns the defined function name when line opens a
	// function definition.
	DetectDefinition(line string) (string, bool)
}

// RegexDefinitionDetector detects definitions with language-agnostic line
// patterns.
type RegexDefinitionDetector struct {
	patterns []*regexp.Regexp
}

// NewRegexDefinitionDetector returns the default detector.
func NewRegexDefinitionDetector() *RegexDefinitionDetector {
	return &RegexDefinitionDetector{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^\s*(?:async\s+)?def\s+(?:self\.)?([A-Za-z_]\w*)`),
		regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*[\[(]`),
		regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:(?:async|unsafe|const|extern)\s+)*fn\s+([A-Za-z_]\w*)`),
		regexp.MustCompile(`^\s*(?:(?:export|default|async|public|private|protected|static|final|abstract)\s+)*function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`),
		regexp.MustCompile(`^\s*(?:\w+\s+)*fun\s+(?:<[^>]*>\s*)?(?:[\w.]+\.)?([A-Za-z_]\w*)\s*\(`),
		regexp.MustCompile(`^\s*(?:[A-Za-z_][\w<>\[\],.*&:]*\s+)*\**([A-Za-z_]\w*)\s*\([^;]*\)\s*(?:const\s*)?(?:throws\s+[\w.,\s]+)?\{\s*$`),
	}}
}

// DetectDefinition implements DefinitionDetector.
func (d *RegexDefinitionDetector) DetectDefinition(line string) (string, bool) {
	for _, re := range d.patterns {
		match := re.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		if name := match[1]; !isKeyword(name) {
			return name, true
		}
	}

	return "", false
}

var callPattern = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(`)

// FileIndex is the per-file part of the symbol index.
type FileIndex struct {
	Path      m.Path
	Lines     []string
	Functions []m.FunctionContext
	defLines  map[int]struct{}
}

// SymbolIndex maps lines to enclosing functions and records textual call
// sites. It is advisory: names are matched, not linked. It is read-only once
// built.
type SymbolIndex struct {
	files    map[m.Path]*FileIndex
	defs     map[string][]m.FunctionContext
	byCallee map[string][]m.CallSite
	byCaller map[string][]m.CallSite
}

func keyOf(fc m.FunctionContext) string {
	return fmt.Sprintf("%s:%s:%d", fc.Path, fc.Name, fc.StartLine)
}

// BuildSymbolIndex builds the index in two passes: definitions per file, then
// call sites referencing any known definition name. Files whose lines were
// not retained by the scanner are re-read through fs.
func BuildSymbolIndex(
	ctx context.Context,
	fs adapter.SourceFSAdapter,
	files []m.FileHits,
	detector DefinitionDetector,
	workers int,
) (*SymbolIndex, error) {
	if detector == nil {
		detector = NewRegexDefinitionDetector()
	}

	if workers <= 0 {
		workers = defaultWorkers
	}

	indexes := make([]*FileIndex, len(files))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, f := range files {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			lines := f.Lines
			if lines == nil {
				content, err := fs.ReadFile(f.File.FullPath)
				if err != nil {
					slog.Warn("cannot re-read file for symbol index", "file", f.File.ShortPath, "error", err)
				}

				lines = SplitLines(content)
			}

			indexes[i] = indexDefinitions(f.File.ShortPath, lines, detector)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("index definitions: %w", err)
	}

	idx := &SymbolIndex{
		files:    make(map[m.Path]*FileIndex, len(indexes)),
		defs:     make(map[string][]m.FunctionContext),
		byCallee: make(map[string][]m.CallSite),
		byCaller: make(map[string][]m.CallSite),
	}

	for _, fi := range indexes {
		idx.files[fi.Path] = fi
		for _, fc := range fi.Functions {
			idx.defs[fc.Name] = append(idx.defs[fc.Name], fc)
		}
	}

	sites := make([][]m.CallSite, len(indexes))

	group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, fi := range indexes {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			sites[i] = idx.indexCalls(fi)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("index calls: %w", err)
	}

	for _, fileSites := range sites {
		for _, cs := range fileSites {
			idx.byCallee[cs.Callee] = append(idx.byCallee[cs.Callee], cs)
			idx.byCaller[keyOf(cs.Caller)] = append(idx.byCaller[keyOf(cs.Caller)], cs)
		}
	}

	for _, list := range idx.byCallee {
		sortSites(list)
	}

	for _, list := range idx.byCaller {
		sortSites(list)
	}

	slog.Debug("symbol index built", "files", len(idx.files), "definitions", len(idx.defs))

	return idx, nil
}

func sortSites(sites []m.CallSite) {
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Path != sites[j].Path {
			return sites[i].Path < sites[j].Path
		}

		if sites[i].Line != sites[j].Line {
			return sites[i].Line < sites[j].Line
		}

		return sites[i].Callee < sites[j].Callee
	})
}

func indexDefinitions(path m.Path, lines []string, detector DefinitionDetector) *FileIndex {
	fi := &FileIndex{Path: path, Lines: lines, defLines: make(map[int]struct{})}

	for i, line := range lines {
		name, ok := detector.DetectDefinition(line)
		if !ok {
			continue
		}

		fi.defLines[i+1] = struct{}{}
		fi.Functions = append(fi.Functions, m.FunctionContext{
			Path:      path,
			Name:      name,
			StartLine: i + 1,
			EndLine:   spanEnd(lines, i),
		})
	}

	return fi
}

// spanEnd returns the 1-based last line of the definition opened at index
// start: the body runs until the next non-blank line indented no deeper than
// the definition. A closing line (`}`, `)`, `]`, `end`) at that indent belongs
// to the body.
func spanEnd(lines []string, start int) int {
	base := indentOf(lines[start])

	for j := start + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}

		if indentOf(lines[j]) > base {
			continue
		}

		if isCloser(trimmed) {
			return j + 1
		}

		return lastNonBlank(lines, start, j)
	}

	return lastNonBlank(lines, start, len(lines))
}

func lastNonBlank(lines []string, start, before int) int {
	for k := before - 1; k > start; k-- {
		if strings.TrimSpace(lines[k]) != "" {
			return k + 1
		}
	}

	return start + 1
}

func isCloser(trimmed string) bool {
	switch trimmed[0] {
	case '}', ')', ']':
		return true
	}

	return trimmed == "end" || strings.HasPrefix(trimmed, "end ") || strings.HasPrefix(trimmed, "end;")
}

func indentOf(line string) int {
	n := 0

	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += tabWidth
		default:
			return n
		}
	}

	return n
}

func (x *SymbolIndex) indexCalls(fi *FileIndex) []m.CallSite {
	var out []m.CallSite

	for i, line := range fi.Lines {
		if _, isDef := fi.defLines[i+1]; isDef {
			continue
		}

		seen := make(map[string]struct{})

		for _, match := range callPattern.FindAllStringSubmatch(line, -1) {
			name := match[1]
			if isKeyword(name) {
				continue
			}

			if _, known := x.defs[name]; !known {
				continue
			}

			if _, dup := seen[name]; dup {
				continue
			}

			seen[name] = struct{}{}
			out = append(out, m.CallSite{
				Path:    fi.Path,
				Line:    i + 1,
				Callee:  name,
				Caller:  fi.resolve(i + 1),
				Snippet: Snippet(line),
			})
		}
	}

	return out
}

func (fi *FileIndex) resolve(line int) m.FunctionContext {
	best := -1

	for i, fc := range fi.Functions {
		if !fc.Contains(line) {
			continue
		}

		if best < 0 || fc.StartLine >= fi.Functions[best].StartLine {
			best = i
		}
	}

	if best >= 0 {
		return fi.Functions[best]
	}

	end := len(fi.Lines)
	if end == 0 {
		end = 1
	}

	return m.FunctionContext{Path: fi.Path, Name: m.GlobalFunction, StartLine: 1, EndLine: end}
}

// Resolve returns the innermost function containing line, or the file-level
// <global> context.
func (x *SymbolIndex) Resolve(path m.Path, line int) m.FunctionContext {
	fi, ok := x.files[path]
	if !ok {
		return m.FunctionContext{Path: path, Name: m.GlobalFunction, StartLine: 1, EndLine: max(line, 1)}
	}

	return fi.resolve(line)
}

// ResolveHit is Resolve for a hit.
func (x *SymbolIndex) ResolveHit(h m.Hit) m.FunctionContext {
	return x.Resolve(h.Path, h.Line)
}

// CallersOf returns call sites that reference fc by name, in path/line order.
// The <global> pseudo-function has no callers.
func (x *SymbolIndex) CallersOf(fc m.FunctionContext) []m.CallSite {
	if fc.IsGlobal() {
		return nil
	}

	return x.byCallee[fc.Name]
}

// CallsFrom returns the call sites located inside fc.
func (x *SymbolIndex) CallsFrom(fc m.FunctionContext) []m.CallSite {
	return x.byCaller[keyOf(fc)]
}

// Definitions returns the functions named name in path.
func (x *SymbolIndex) Definitions(path m.Path, name string) []m.FunctionContext {
	var out []m.FunctionContext

	for _, fc := range x.defs[name] {
		if fc.Path == path {
			out = append(out, fc)
		}
	}

	return out
}

// Functions returns every function of a file in line order.
func (x *SymbolIndex) Functions(path m.Path) []m.FunctionContext {
	if fi, ok := x.files[path]; ok {
		return fi.Functions
	}

	return nil
}

// Lines returns the lines of path.
func (x *SymbolIndex) Lines(path m.Path) []string {
	if fi, ok := x.files[path]; ok {
		return fi.Lines
	}

	return nil
}

// Line returns the 1-based line of path, or "" when out of range.
func (x *SymbolIndex) Line(path m.Path, n int) string {
	lines := x.Lines(path)
	if n < 1 || n > len(lines) {
		return ""
	}

	return lines[n-1]
}

// Paths returns the indexed files in order.
func (x *SymbolIndex) Paths() []m.Path {
	out := make([]m.Path, 0, len(x.files))
	for p := range x.files {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
