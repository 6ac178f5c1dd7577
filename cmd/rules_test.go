package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"taintaudit.dev/pkg/taintaudit/internal/domain"
	domainmocks "taintaudit.dev/pkg/taintaudit/internal/domain/mocks"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

func TestRulesCmd_PassesRulesFile(t *testing.T) {
	isolateLogFile(t)

	mockWorkflow := domainmocks.NewMockWorkflow(t)

	cmd := newRootCmd()
	cmd.AddCommand(newRulesCmd())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	originalWorkflow := workflow
	workflow = mockWorkflow
	defer func() { workflow = originalWorkflow }()

	mockWorkflow.On("Rules", mock.Anything, mock.MatchedBy(func(args domain.RulesArgs) bool {
		return args.RulesFile == m.Path("custom-rules.yaml")
	})).Return(nil)

	cmd.SetArgs([]string{"rules", "--rules", "custom-rules.yaml"})
	require.NoError(t, cmd.Execute())
}

func TestRulesCmd_ReturnsWorkflowError(t *testing.T) {
	isolateLogFile(t)

	mockWorkflow := domainmocks.NewMockWorkflow(t)

	cmd := newRootCmd()
	cmd.AddCommand(newRulesCmd())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	originalWorkflow := workflow
	workflow = mockWorkflow
	defer func() { workflow = originalWorkflow }()

	mockWorkflow.On("Rules", mock.Anything, mock.Anything).Return(errors.New("bad rule file"))

	cmd.SetArgs([]string{"rules"})
	require.Error(t, cmd.Execute())
}
