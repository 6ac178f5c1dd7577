package domain

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"sort"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// BuiltinRulesVersion is bumped whenever the built-in rule set changes.
const BuiltinRulesVersion = "builtin-3"

// ErrInvalidRule is returned when a rule cannot be compiled or is incomplete.
var ErrInvalidRule = errors.New("invalid rule")

// Rule is a compiled, immutable rule.
type Rule struct {
	m.RuleSpec
	re *regexp.Regexp
}

// Matches reports whether the rule matches line.
func (r Rule) Matches(line string) bool {
	return r.re.MatchString(line)
}

// Catalog is the loaded rule set. It is never mutated after construction and
// is safe for concurrent use.
type Catalog struct {
	rules    []Rule
	byFamily map[m.Family][]Rule
	declared string
	version  string
}

// NewCatalog compiles specs into a catalog. Any malformed rule fails the whole
// load.
func NewCatalog(declaredVersion string, specs []m.RuleSpec) (*Catalog, error) {
	c := &Catalog{
		byFamily: make(map[m.Family][]Rule),
		declared: declaredVersion,
	}

	seen := make(map[string]struct{}, len(specs))

	for _, spec := range specs {
		rule, err := compileRule(spec)
		if err != nil {
			return nil, err
		}

		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRule, spec.ID)
		}

		seen[spec.ID] = struct{}{}

		c.rules = append(c.rules, rule)
		c.byFamily[spec.Family] = append(c.byFamily[spec.Family], rule)
	}

	c.version = declaredVersion + "+" + digestRules(specs)

	return c, nil
}

func compileRule(spec m.RuleSpec) (Rule, error) {
	if spec.ID == "" || spec.Category == "" {
		return Rule{}, fmt.Errorf("%w: rule needs id and category (%+v)", ErrInvalidRule, spec)
	}

	switch spec.Family {
	case m.FamilySource, m.FamilySink, m.FamilySanitizer, m.FamilyGuard:
	default:
		return Rule{}, fmt.Errorf("%w: %s: unknown family %q", ErrInvalidRule, spec.ID, spec.Family)
	}

	if spec.TaintKind == "" {
		spec.TaintKind = m.KindAny
	}

	if spec.Family == m.FamilySink && spec.TaintKind == m.KindAny {
		return Rule{}, fmt.Errorf("%w: %s: sink rules need a concrete taint kind", ErrInvalidRule, spec.ID)
	}

	if spec.Family == m.FamilySink && spec.Severity == "" {
		spec.Severity = m.SeverityMedium
	}

	if spec.Title == "" {
		spec.Title = spec.Category
	}

	re, err := regexp.Compile("(?i)" + spec.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %s: %v", ErrInvalidRule, spec.ID, err)
	}

	if re.MatchString("") {
		return Rule{}, fmt.Errorf("%w: %s: pattern matches the empty line", ErrInvalidRule, spec.ID)
	}

	return Rule{RuleSpec: spec, re: re}, nil
}

func digestRules(specs []m.RuleSpec) string {
	sorted := make([]m.RuleSpec, len(specs))
	copy(sorted, specs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, s := range sorted {
		_, _ = fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\n", s.ID, s.Family, s.Category, s.TaintKind, s.Severity, s.Pattern)
	}

	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(BuiltinRulesVersion, DefaultRuleSpecs())
	if err != nil {
		panic(err)
	}

	return c
}

// Extend returns a new catalog holding the receiver's rules plus extra. The
// receiver is left untouched.
func (c *Catalog) Extend(label string, extra []m.RuleSpec) (*Catalog, error) {
	specs := make([]m.RuleSpec, 0, len(c.rules)+len(extra))
	for _, r := range c.rules {
		specs = append(specs, r.RuleSpec)
	}

	specs = append(specs, extra...)

	declared := c.declared
	if label != "" {
		declared += "/" + label
	}

	return NewCatalog(declared, specs)
}

// Version identifies the rule set: declared version plus a digest of every rule.
func (c *Catalog) Version() string {
	return c.version
}

// Rules returns every rule in load order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)

	return out
}

// Family returns the rules of one family in load order.
func (c *Catalog) Family(f m.Family) []Rule {
	return c.byFamily[f]
}

// Match returns every rule matching line. Evaluation is pure, so the same
// line always yields the same rules.
func (c *Catalog) Match(line string) []Rule {
	var out []Rule

	for _, r := range c.rules {
		if r.Matches(line) {
			out = append(out, r)
		}
	}

	return out
}

// Categories lists the distinct categories of a family in first-seen order.
func (c *Catalog) Categories(f m.Family) []Rule {
	seen := make(map[string]struct{})

	var out []Rule

	for _, r := range c.byFamily[f] {
		if _, ok := seen[r.Category]; ok {
			continue
		}

		seen[r.Category] = struct{}{}
		out = append(out, r)
	}

	return out
}
