package model

// Hit is one rule matching one physical line.
type Hit struct {
	Path      Path      `json:"file_path"`
	Line      int       `json:"line_number"`
	RuleID    string    `json:"rule_id"`
	Family    Family    `json:"family"`
	Category  string    `json:"category"`
	Title     string    `json:"title,omitempty"`
	Snippet   string    `json:"snippet"`
	TaintKind TaintKind `json:"taint_kind"`
	Severity  Severity  `json:"severity,omitempty"`
}

// Location returns where the hit was found.
func (h Hit) Location() Location {
	return Location{Path: h.Path, Line: h.Line}
}

// SinkID is the identity used to merge flows into findings.
type SinkID struct {
	Path     Path   `json:"file_path"`
	Line     int    `json:"line_number"`
	Category string `json:"category"`
}

func (s SinkID) String() string {
	return Location{Path: s.Path, Line: s.Line}.String() + ":" + s.Category
}

// SinkID returns the sink identity of the hit.
func (h Hit) SinkID() SinkID {
	return SinkID{Path: h.Path, Line: h.Line, Category: h.Category}
}

// HitGroup collects the hits of one category.
type HitGroup struct {
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Severity Severity `json:"severity,omitempty"`
	Count    int      `json:"count"`
	Hits     []Hit    `json:"hits"`
}

// FileHits is the per-file unit produced by the corpus scanner.
type FileHits struct {
	File   File     `json:"file"`
	Lines  []string `json:"-"`
	Hits   []Hit    `json:"hits"`
	Cached bool     `json:"cached"`
}

// CacheEntry is the persisted scan result for one file under one parameter set.
type CacheEntry struct {
	Key          string `json:"key"`
	Path         Path   `json:"file_path"`
	Fingerprint  string `json:"fingerprint"`
	RulesVersion string `json:"rules_version"`
	Hits         []Hit  `json:"hits"`
}
