package domain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"taintaudit.dev/pkg/taintaudit/internal/adapter"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// ErrNoRepoRoot is returned when the repository root is missing or not a directory.
var ErrNoRepoRoot = errors.New("repository root not found")

const (
	maxSnippetRunes = 180
	binarySniffSize = 8000
	defaultWorkers  = 4
)

// IgnoredDirs are never descended into.
var IgnoredDirs = map[string]struct{}{
	".git": {}, ".hg": {}, ".svn": {}, "node_modules": {}, "dist": {}, "build": {}, "target": {},
	"vendor": {}, "__pycache__": {}, ".mypy_cache": {}, ".pytest_cache": {}, ".idea": {}, ".vscode": {},
	"out": {}, ".audit": {}, ".taintaudit": {},
}

// SourceExtensions are the recognized text/code file extensions.
var SourceExtensions = map[string]struct{}{
	".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".go": {}, ".java": {}, ".kt": {},
	".c": {}, ".cc": {}, ".cpp": {}, ".cxx": {}, ".h": {}, ".hpp": {}, ".rs": {}, ".php": {},
	".rb": {}, ".swift": {}, ".scala": {}, ".cs": {}, ".sh": {}, ".yaml": {}, ".yml": {},
	".toml": {}, ".ini": {}, ".json": {}, ".xml": {},
}

// ScanInput holds the already-validated scan parameters.
type ScanInput struct {
	RepoRoot     m.Path
	FocusPaths   []string
	Kinds        []m.TaintKind
	Depth        int
	Budget       int
	CacheEnabled bool
	Workers      int
}

// CacheStats counts cache traffic during one scan.
type CacheStats struct {
	Hits   int
	Misses int
	Writes int
	Errors int
}

// ScanResult is the full hit set of a scan.
type ScanResult struct {
	Root       m.Path
	Files      []m.FileHits
	Entries    []m.HitGroup
	Sinks      []m.HitGroup
	Sanitizers []m.Hit
	Guards     []m.Hit
	Scope      m.Scope
	Cache      CacheStats
}

// AllHits returns the hits of one family across every file, in file order.
func (r ScanResult) AllHits(family m.Family) []m.Hit {
	var out []m.Hit

	for _, f := range r.Files {
		for _, h := range f.Hits {
			if h.Family == family {
				out = append(out, h)
			}
		}
	}

	return out
}

// Scanner applies the rule catalog to a corpus.
type Scanner struct {
	fs      adapter.SourceFSAdapter
	cache   adapter.HitCache
	catalog *Catalog
}

// NewScanner creates a Scanner. cache may be nil.
func NewScanner(fs adapter.SourceFSAdapter, cache adapter.HitCache, catalog *Catalog) *Scanner {
	return &Scanner{fs: fs, cache: cache, catalog: catalog}
}

type scanCounters struct {
	hits, misses, writes, errors atomic.Int64
}

type fileOutcome struct {
	hits m.FileHits
	skip *m.SkipNote
}

// Scan enumerates in-scope files and applies the catalog to each, replaying
// cached hits for unchanged files. Per-file problems become skip notes; only a
// missing root or cancellation fail the scan.
func (s *Scanner) Scan(ctx context.Context, in ScanInput) (ScanResult, error) {
	root, err := s.fs.AbsPath(in.RepoRoot)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: %v", ErrNoRepoRoot, err)
	}

	info, err := s.fs.FileInfo(root)
	if err != nil || !info.IsDir() {
		return ScanResult{}, fmt.Errorf("%w: %s", ErrNoRepoRoot, root)
	}

	roots, notes := s.resolveFocus(root, in.FocusPaths)

	files, err := s.enumerate(root, roots)
	if err != nil {
		return ScanResult{}, err
	}

	scope := m.Scope{Roots: relRoots(s.fs, root, roots), FilesTotal: len(files), Skipped: notes}

	if in.Budget > 0 && len(files) > in.Budget {
		files = files[:in.Budget]
		scope.Truncated = true

		slog.Info("file budget exhausted, scope truncated", "budget", in.Budget, "total", scope.FilesTotal)
	}

	workers := in.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	signature := paramsSignature(in, s.catalog.Version())
	outcomes := make([]fileOutcome, len(files))

	var counters scanCounters

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, rel := range files {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			outcomes[i] = s.scanFile(root, rel, signature, in.CacheEnabled, &counters)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return ScanResult{}, fmt.Errorf("scan: %w", err)
	}

	result := ScanResult{Root: root}

	for _, o := range outcomes {
		if o.skip != nil {
			scope.Skipped = append(scope.Skipped, *o.skip)
			continue
		}

		result.Files = append(result.Files, o.hits)
	}

	scope.FilesScanned = len(result.Files)
	result.Scope = scope
	result.Cache = CacheStats{
		Hits:   int(counters.hits.Load()),
		Misses: int(counters.misses.Load()),
		Writes: int(counters.writes.Load()),
		Errors: int(counters.errors.Load()),
	}

	s.group(&result, in.Kinds)

	return result, nil
}

// resolveFocus turns comma separated focus values into absolute, existing,
// de-duplicated roots. An empty result means the whole repository.
func (s *Scanner) resolveFocus(root m.Path, raw []string) ([]m.Path, []m.SkipNote) {
	var (
		roots []m.Path
		notes []m.SkipNote
	)

	seen := make(map[m.Path]struct{})

	for _, value := range raw {
		for _, item := range strings.Split(value, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}

			p := m.Path(item)
			if !filepath.IsAbs(item) {
				p = s.fs.JoinPath(string(root), item)
			}

			abs, err := s.fs.AbsPath(p)
			if err != nil {
				notes = append(notes, m.SkipNote{Path: m.Path(item), Reason: m.SkipMissingFocus, Detail: err.Error()})
				continue
			}

			if _, err := s.fs.FileInfo(abs); err != nil {
				notes = append(notes, m.SkipNote{Path: m.Path(item), Reason: m.SkipMissingFocus})
				continue
			}

			if _, dup := seen[abs]; dup {
				continue
			}

			seen[abs] = struct{}{}
			roots = append(roots, abs)
		}
	}

	if len(roots) == 0 {
		roots = []m.Path{root}
	}

	return roots, notes
}

func (s *Scanner) enumerate(root m.Path, roots []m.Path) ([]m.Path, error) {
	seen := make(map[m.Path]struct{})

	var files []m.Path

	add := func(abs string) {
		rel, err := s.fs.RelPath(root, m.Path(abs))
		if err != nil || isIgnored(rel) {
			return
		}

		if _, ok := SourceExtensions[strings.ToLower(filepath.Ext(abs))]; !ok {
			return
		}

		if _, dup := seen[rel]; dup {
			return
		}

		seen[rel] = struct{}{}
		files = append(files, rel)
	}

	for _, r := range roots {
		err := s.fs.Walk(r, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				slog.Warn("walk error", "path", path, "error", err)

				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			if info.IsDir() {
				if _, ignored := IgnoredDirs[info.Name()]; ignored && path != string(r) {
					return filepath.SkipDir
				}

				return nil
			}

			if info.Mode().IsRegular() {
				add(path)
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", r, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })

	return files, nil
}

// isIgnored reports whether a root-relative path is outside the root or
// passes through an ignored directory.
func isIgnored(rel m.Path) bool {
	parts := strings.Split(string(rel), "/")
	if len(parts) > 0 && parts[0] == ".." {
		return true
	}

	for _, part := range parts[:len(parts)-1] {
		if _, ok := IgnoredDirs[part]; ok {
			return true
		}
	}

	return false
}

func relRoots(fs adapter.SourceFSAdapter, root m.Path, roots []m.Path) []m.Path {
	out := make([]m.Path, 0, len(roots))

	for _, r := range roots {
		rel, err := fs.RelPath(root, r)
		if err != nil {
			rel = r
		}

		out = append(out, rel)
	}

	return out
}

func (s *Scanner) scanFile(root, rel m.Path, signature string, useCache bool, counters *scanCounters) fileOutcome {
	full := s.fs.JoinPath(string(root), string(rel))

	fingerprint, err := s.fs.HashFile(full)
	if err != nil {
		slog.Warn("unreadable file skipped", "file", rel, "error", err)
		return fileOutcome{skip: &m.SkipNote{Path: rel, Reason: m.SkipUnreadable, Detail: err.Error()}}
	}

	file := m.File{FullPath: full, ShortPath: rel, Hash: fingerprint}
	key := CacheKey(signature, rel, fingerprint)

	if useCache && s.cache != nil {
		entry, ok, err := s.cache.Get(key)

		switch {
		case err != nil:
			counters.errors.Add(1)
			slog.Warn("cache entry unusable, rescanning", "file", rel, "error", err)
		case ok && entry.Path == rel && entry.Fingerprint == fingerprint:
			counters.hits.Add(1)
			slog.Debug("cache hit", "file", rel)

			return fileOutcome{hits: m.FileHits{File: file, Hits: entry.Hits, Cached: true}}
		default:
			counters.misses.Add(1)
		}
	}

	content, err := s.fs.ReadFile(full)
	if err != nil {
		slog.Warn("unreadable file skipped", "file", rel, "error", err)
		return fileOutcome{skip: &m.SkipNote{Path: rel, Reason: m.SkipUnreadable, Detail: err.Error()}}
	}

	if isBinary(content) {
		slog.Debug("binary file skipped", "file", rel)
		return fileOutcome{skip: &m.SkipNote{Path: rel, Reason: m.SkipBinary}}
	}

	lines := SplitLines(content)
	hits := s.matchLines(rel, lines)

	if s.cache != nil {
		entry := m.CacheEntry{Key: key, Path: rel, Fingerprint: fingerprint, RulesVersion: s.catalog.Version(), Hits: hits}
		if err := s.cache.Put(entry); err != nil {
			counters.errors.Add(1)
			slog.Warn("cache write failed", "file", rel, "error", err)
		} else {
			counters.writes.Add(1)
		}
	}

	return fileOutcome{hits: m.FileHits{File: file, Lines: lines, Hits: hits}}
}

func (s *Scanner) matchLines(rel m.Path, lines []string) []m.Hit {
	hits := []m.Hit{}

	for i, line := range lines {
		snippet := Snippet(line)
		if snippet == "" {
			continue
		}

		for _, rule := range s.catalog.Match(line) {
			hits = append(hits, m.Hit{
				Path:      rel,
				Line:      i + 1,
				RuleID:    rule.ID,
				Family:    rule.Family,
				Category:  rule.Category,
				Title:     rule.Title,
				Snippet:   snippet,
				TaintKind: rule.TaintKind,
				Severity:  rule.Severity,
			})
		}
	}

	return hits
}

// group builds the entries and sinks sections. Sinks of kinds that are not
// selected are dropped here; the cache keeps every hit.
func (s *Scanner) group(result *ScanResult, kinds []m.TaintKind) {
	enabled := kindSet(kinds)

	sources := make(map[string][]m.Hit)
	sinks := make(map[string][]m.Hit)

	for _, f := range result.Files {
		for _, h := range f.Hits {
			switch h.Family {
			case m.FamilySource:
				sources[h.Category] = append(sources[h.Category], h)
			case m.FamilySink:
				if enabled[h.TaintKind] {
					sinks[h.Category] = append(sinks[h.Category], h)
				}
			case m.FamilySanitizer:
				result.Sanitizers = append(result.Sanitizers, h)
			case m.FamilyGuard:
				result.Guards = append(result.Guards, h)
			}
		}
	}

	result.Entries = buildGroups(s.catalog.Categories(m.FamilySource), sources)
	result.Sinks = buildGroups(s.catalog.Categories(m.FamilySink), sinks)
}

func buildGroups(categories []Rule, hits map[string][]m.Hit) []m.HitGroup {
	groups := make([]m.HitGroup, 0, len(categories))

	for _, rule := range categories {
		h := hits[rule.Category]
		if h == nil {
			h = []m.Hit{}
		}

		groups = append(groups, m.HitGroup{
			Category: rule.Category,
			Title:    rule.Title,
			Severity: rule.Severity,
			Count:    len(h),
			Hits:     h,
		})
	}

	return groups
}

func kindSet(kinds []m.TaintKind) map[m.TaintKind]bool {
	if len(kinds) == 0 {
		kinds = m.DefaultKinds
	}

	set := make(map[m.TaintKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}

	return set
}

// paramsSignature is the parameter part of every cache key.
func paramsSignature(in ScanInput, rulesVersion string) string {
	kinds := make([]string, 0, len(in.Kinds))
	for _, k := range in.Kinds {
		kinds = append(kinds, string(k))
	}

	sort.Strings(kinds)

	return strings.Join([]string{
		"kinds=" + strings.Join(kinds, ","),
		"rules=" + rulesVersion,
		"depth=" + strconv.Itoa(in.Depth),
		"budget=" + strconv.Itoa(in.Budget),
	}, ";")
}

// CacheKey derives the cache key for one file under one parameter set.
func CacheKey(signature string, rel m.Path, fingerprint string) string {
	sum := sha256.Sum256([]byte(signature + "\x00" + string(rel) + "\x00" + fingerprint))
	return fmt.Sprintf("%x", sum)
}

func isBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffSize {
		sniff = sniff[:binarySniffSize]
	}

	return bytes.IndexByte(sniff, 0) >= 0
}

// SplitLines splits content into physical lines without line terminators.
// A trailing newline does not produce an extra empty line.
func SplitLines(content []byte) []string {
	text := strings.ToValidUTF8(string(content), "")
	text = strings.TrimSuffix(text, "\n")

	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	return lines
}

// Snippet trims a line and caps it for display.
func Snippet(line string) string {
	s := strings.TrimSpace(line)
	if utf8.RuneCountInString(s) <= maxSnippetRunes {
		return s
	}

	return string([]rune(s)[:maxSnippetRunes])
}
