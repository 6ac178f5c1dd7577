package model

// GlobalFunction names the pseudo-function covering code outside any definition.
const GlobalFunction = "<global>"

// FunctionContext is an approximate function span.
type FunctionContext struct {
	Path      Path   `json:"file_path"`
	Name      string `json:"function_name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Contains reports whether line falls inside the span.
func (fc FunctionContext) Contains(line int) bool {
	return line >= fc.StartLine && line <= fc.EndLine
}

// IsGlobal reports whether the context is the file-level pseudo-function.
func (fc FunctionContext) IsGlobal() bool {
	return fc.Name == GlobalFunction
}

// CallSite is a line that looks like a call to a known function.
type CallSite struct {
	Path    Path            `json:"file_path"`
	Line    int             `json:"line_number"`
	Callee  string          `json:"callee"`
	Caller  FunctionContext `json:"caller"`
	Snippet string          `json:"snippet"`
}

// Direction tells which tracer produced a flow.
type Direction string

const (
	// Backward flows start at a sink and search outward for a source.
	Backward Direction = "BWD"
	// Forward flows start at a source and scan ahead for sinks.
	Forward Direction = "FWD"
)

// Tier records how far the backward search had to widen.
type Tier int

const (
	// TierFallback means no tier produced a candidate.
	TierFallback Tier = iota
	// TierSameFunction means the source sits earlier in the sink's function.
	TierSameFunction
	// TierSameFile means the source sits in a function directly related to the sink's function.
	TierSameFile
	// TierCallers means the source sits in a cross-file caller chain.
	TierCallers
)

func (t Tier) String() string {
	switch t {
	case TierSameFunction:
		return "same-function"
	case TierSameFile:
		return "same-file"
	case TierCallers:
		return "callers"
	case TierFallback:
		return "fallback"
	}

	return "unknown"
}

// GuardRef is a guard found in the traversed span.
type GuardRef struct {
	Location      Location `json:"location"`
	ConditionText string   `json:"condition_text"`
}

// SanitizerRef is a sanitizer found between source and sink. Recording one
// never implies it is effective.
type SanitizerRef struct {
	Location Location `json:"location"`
	Snippet  string   `json:"snippet"`
}

// Flow is one traced path hypothesis between a source and a sink.
type Flow struct {
	ID            string            `json:"flow_id"`
	Direction     Direction         `json:"direction"`
	TaintKind     TaintKind         `json:"taint_kind"`
	Sink          *Hit              `json:"sink_hit,omitempty"`
	Source        *Hit              `json:"source_hit,omitempty"`
	Tier          Tier              `json:"tier"`
	FunctionStack []FunctionContext `json:"function_stack"`
	VariableChain []string          `json:"variable_chain"`
	ChainReaches  bool              `json:"chain_reaches_sink"`
	Guards        []GuardRef        `json:"guards"`
	Sanitizers    []SanitizerRef    `json:"sanitizers"`
	Notes         []string          `json:"notes"`

	// CandidateSinks holds the further sinks a forward flow reached after Sink.
	CandidateSinks []Hit `json:"candidate_sinks,omitempty"`
	// UnknownRiskCalls holds suspicious calls no sink rule covered.
	UnknownRiskCalls []CallSite `json:"unknown_risk_calls,omitempty"`
}

// MultiFrame reports whether the flow resolved a caller chain.
func (f Flow) MultiFrame() bool {
	return len(f.FunctionStack) > 1
}

// References reports whether the flow's sink or one of its candidates has the given identity.
func (f Flow) References(id SinkID) bool {
	if f.Sink != nil && f.Sink.SinkID() == id {
		return true
	}

	for _, c := range f.CandidateSinks {
		if c.SinkID() == id {
			return true
		}
	}

	return false
}
