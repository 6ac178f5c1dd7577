package adapter

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// ErrRuleFile marks a rule extension file that cannot be used.
var ErrRuleFile = errors.New("invalid rule file")

// RuleFile is the on-disk layout of a rule extension file.
//
//	version: team-2024-06
//	rules:
//	  - id: sink-custom-shell
//	    family: sink
//	    category: exec
//	    title: internal shell helper
//	    taint_kind: cmd
//	    severity: high
//	    pattern: '\brunShell\s*\('
type RuleFile struct {
	Version string       `yaml:"version"`
	Rules   []m.RuleSpec `yaml:"rules"`
}

// RuleFileAdapter loads extra rules from a file.
type RuleFileAdapter interface {
	LoadRules(path m.Path) (RuleFile, error)
}

// YAMLRuleFileAdapter reads YAML rule files.
type YAMLRuleFileAdapter struct {
	fs SourceFSAdapter
}

// NewYAMLRuleFileAdapter creates a YAMLRuleFileAdapter.
func NewYAMLRuleFileAdapter(fs SourceFSAdapter) *YAMLRuleFileAdapter {
	return &YAMLRuleFileAdapter{fs: fs}
}

// LoadRules parses the rule file at path. Unknown keys are rejected so typos
// do not silently drop a rule.
func (a *YAMLRuleFileAdapter) LoadRules(path m.Path) (RuleFile, error) {
	data, err := a.fs.ReadFile(path)
	if err != nil {
		return RuleFile{}, fmt.Errorf("%w: read %s: %v", ErrRuleFile, path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file RuleFile
	if err := dec.Decode(&file); err != nil {
		return RuleFile{}, fmt.Errorf("%w: decode %s: %v", ErrRuleFile, path, err)
	}

	for i, r := range file.Rules {
		if r.ID == "" || r.Pattern == "" || r.Category == "" {
			return RuleFile{}, fmt.Errorf("%w: %s: rule #%d needs id, category and pattern", ErrRuleFile, path, i+1)
		}

		switch r.Family {
		case m.FamilySource, m.FamilySink, m.FamilySanitizer, m.FamilyGuard:
		default:
			return RuleFile{}, fmt.Errorf("%w: %s: rule %s has unknown family %q", ErrRuleFile, path, r.ID, r.Family)
		}
	}

	return file, nil
}
