package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

func finding(id string, kind m.TaintKind, severity m.Severity, authzGap bool) m.Finding {
	return m.Finding{ID: id, TaintKind: kind, Severity: severity, AuthzGap: authzGap}
}

func TestFindingLabels(t *testing.T) {
	assert.Equal(t, []string{"cmd"}, FindingLabels(finding("F-001", m.KindCmd, m.SeverityHigh, false)))
	assert.Equal(t, []string{"cmd", LabelAuthzGap}, FindingLabels(finding("F-001", m.KindCmd, m.SeverityCritical, true)))
	assert.Equal(t, []string{"path"}, FindingLabels(finding("F-001", m.KindPath, m.SeverityMedium, true)), "medium findings never carry the gap label")
}

func TestComposer_Compose(t *testing.T) {
	c := NewComposer()

	t.Run("write then execute", func(t *testing.T) {
		chains := c.Compose([]m.Finding{
			finding("F-001", m.KindCmd, m.SeverityHigh, false),
			finding("F-002", m.KindPath, m.SeverityMedium, false),
		})

		require.Len(t, chains, 1)
		assert.Equal(t, "CHAIN-01", chains[0].ID)
		assert.Equal(t, "write-then-load/execute", chains[0].PatternName)
		require.Len(t, chains[0].Steps, 2)
		assert.Equal(t, []string{"F-002"}, chains[0].Steps[0].FindingIDs)
		assert.Equal(t, "cmd", chains[0].Steps[1].Label)
		assert.Equal(t, []string{"F-001"}, chains[0].Steps[1].FindingIDs)
		assert.NotEmpty(t, chains[0].Preconditions)
		assert.NotEmpty(t, chains[0].ImpactSummary)
	})

	t.Run("single finding never chains with itself", func(t *testing.T) {
		chains := c.Compose([]m.Finding{finding("F-001", m.KindCmd, m.SeverityCritical, false)})

		assert.NotNil(t, chains)
		assert.Empty(t, chains)
	})

	t.Run("high sink without authorization is a privilege gap on its own", func(t *testing.T) {
		chains := c.Compose([]m.Finding{finding("F-001", m.KindCmd, m.SeverityHigh, true)})

		require.Len(t, chains, 1)
		assert.Equal(t, "privilege-gap-to-sink", chains[0].PatternName)
		require.Len(t, chains[0].Steps, 2)
		assert.Equal(t, LabelAuthzGap, chains[0].Steps[0].Label)
		assert.Equal(t, []string{"F-001"}, chains[0].Steps[0].FindingIDs)
		assert.Equal(t, "cmd", chains[0].Steps[1].Label)
		assert.Equal(t, []string{"F-001"}, chains[0].Steps[1].FindingIDs)
	})

	t.Run("medium sink without authorization does not chain", func(t *testing.T) {
		assert.Empty(t, c.Compose([]m.Finding{finding("F-001", m.KindPath, m.SeverityMedium, true)}))
	})

	t.Run("privilege gap and ssrf rules", func(t *testing.T) {
		chains := c.Compose([]m.Finding{
			finding("F-001", m.KindQuery, m.SeverityHigh, true),
			finding("F-002", m.KindCmd, m.SeverityHigh, false),
			finding("F-003", m.KindSSRF, m.SeverityMedium, false),
		})

		names := make([]string, 0, len(chains))
		for _, ch := range chains {
			names = append(names, ch.PatternName)
		}

		assert.Equal(t, []string{"privilege-gap-to-sink", "probe-then-bypass"}, names)
		assert.Equal(t, "CHAIN-01", chains[0].ID)
		assert.Equal(t, "CHAIN-02", chains[1].ID)
		assert.Equal(t, []string{"F-001", "F-002"}, chains[0].Steps[1].FindingIDs)
		assert.Equal(t, LabelAuthzGap, chains[0].Steps[0].Label)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, c.Compose(nil))
	})
}

func TestComposer_CustomRules(t *testing.T) {
	c := NewComposer(ChainRule{
		Name:  "memory-only",
		Steps: []StepMatcher{{Labels: []string{string(m.KindMemory)}}},
	})

	chains := c.Compose([]m.Finding{finding("F-001", m.KindMemory, m.SeverityHigh, false)})

	require.Len(t, chains, 1, "single-step rules may use one finding")
	assert.Equal(t, "memory-only", chains[0].PatternName)
}
