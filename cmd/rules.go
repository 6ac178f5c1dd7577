package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taintaudit.dev/pkg/taintaudit/internal/domain"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

var rulesFileFlag string

// rulesCmd represents the rules command.
var rulesCmd = newRulesCmd()

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the effective rule catalog",
		Long: `List every source, sink, sanitizer and guard rule with its category, taint kind
and severity, including rules loaded from an optional YAML rule file.`,
		Args: cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return workflow.Rules(cmd.Context(), domain.RulesArgs{
				RulesFile: m.Path(viper.GetString(rulesFileConfigKey)),
			})
		},
	}

	cmd.Flags().StringVar(&rulesFileFlag, rulesFlagName, viper.GetString(rulesFileConfigKey), "YAML file with additional rules")
	bindFlagToConfig(cmd.Flags().Lookup(rulesFlagName), rulesFileConfigKey)

	return cmd
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}
