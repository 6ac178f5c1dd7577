package domain

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

const (
	policySourceGroups    = 120
	policySourceLocations = 8
	policySinkGroups      = 200
	policySinkLocations   = 10
	policySanitizers      = 80
	profileTopExtensions  = 12
)

// TrustBoundaries is the fixed boundary list of every taint policy draft.
var TrustBoundaries = []string{
	"external request -> application entry (HTTP/RPC/MQ/CLI)",
	"application internals -> filesystem/database/template engine/command execution",
	"cross-tenant / cross-privilege-domain calls",
}

var (
	authzPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(auth|authorize|authorization|permission|permit|deny|rbac|abac|policy)\b`),
		regexp.MustCompile(`(?i)\b(owner|tenant|tenant_id|org_id|account_id|scope|principal|subject)\b`),
	}
	authzKeywords = []string{"auth", "permission", "permit", "owner", "tenant", "role", "policy"}
	wordPattern   = regexp.MustCompile(`[A-Za-z_]+`)
)

// BuildAuthzModel records which lines and files carry authorization
// semantics. Guard hits always count.
func BuildAuthzModel(index *SymbolIndex, guards []m.Hit) m.AuthzModel {
	model := m.AuthzModel{
		Hits:     []m.Location{},
		Files:    make(map[m.Path]int),
		Keywords: make(map[string]int, len(authzKeywords)),
	}

	for _, k := range authzKeywords {
		model.Keywords[k] = 0
	}

	lines := make(map[m.Location]struct{})

	for _, path := range index.Paths() {
		for i, line := range index.Lines(path) {
			for _, re := range authzPatterns {
				if re.MatchString(line) {
					lines[m.Location{Path: path, Line: i + 1}] = struct{}{}
					break
				}
			}

			for _, w := range wordPattern.FindAllString(strings.ToLower(line), -1) {
				if _, ok := model.Keywords[w]; ok {
					model.Keywords[w]++
				}
			}
		}
	}

	for _, g := range guards {
		lines[g.Location()] = struct{}{}
	}

	for loc := range lines {
		model.Hits = append(model.Hits, loc)
		model.Files[loc.Path]++
	}

	sort.Slice(model.Hits, func(i, j int) bool {
		if model.Hits[i].Path != model.Hits[j].Path {
			return model.Hits[i].Path < model.Hits[j].Path
		}

		return model.Hits[i].Line < model.Hits[j].Line
	})

	return model
}

// BuildTaintPolicy drafts the taint policy from the grouped scan output.
func BuildTaintPolicy(scan ScanResult, kinds []m.TaintKind) m.TaintPolicy {
	if len(kinds) == 0 {
		kinds = m.DefaultKinds
	}

	policy := m.TaintPolicy{
		Kinds:           append([]m.TaintKind(nil), kinds...),
		Sources:         policyGroups(scan.Entries, policySourceGroups, policySourceLocations),
		Sinks:           policyGroups(scan.Sinks, policySinkGroups, policySinkLocations),
		Sanitizers:      []m.SanitizerRef{},
		TrustBoundaries: append([]string(nil), TrustBoundaries...),
	}

	for _, h := range scan.Sanitizers {
		if len(policy.Sanitizers) == policySanitizers {
			break
		}

		policy.Sanitizers = append(policy.Sanitizers, m.SanitizerRef{Location: h.Location(), Snippet: h.Snippet})
	}

	return policy
}

func policyGroups(groups []m.HitGroup, maxGroups, maxLocations int) []m.PolicyGroup {
	out := []m.PolicyGroup{}

	for _, g := range groups {
		if g.Count == 0 {
			continue
		}

		if len(out) == maxGroups {
			break
		}

		pg := m.PolicyGroup{Category: g.Category, Title: g.Title, Locations: []m.Location{}}
		for _, h := range g.Hits {
			if len(pg.Locations) == maxLocations {
				break
			}

			pg.Locations = append(pg.Locations, h.Location())
		}

		out = append(out, pg)
	}

	return out
}

// ProfileProject counts scanned files per extension.
func ProfileProject(files []m.FileHits) (int, []m.ExtensionCount) {
	counts := make(map[string]int)

	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(string(f.File.ShortPath)))
		if ext == "" {
			ext = "<none>"
		}

		counts[ext]++
	}

	out := make([]m.ExtensionCount, 0, len(counts))
	for ext, n := range counts {
		out = append(out, m.ExtensionCount{Extension: ext, Files: n})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}

		return out[i].Extension < out[j].Extension
	})

	if len(out) > profileTopExtensions {
		out = out[:profileTopExtensions]
	}

	return len(files), out
}
