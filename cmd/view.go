package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taintaudit.dev/pkg/taintaudit/internal/domain"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// viewCmd represents the view command.
var viewCmd = newViewCmd()

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse a previously generated audit report",
		Long:  "Browse the findings and attack chains of the report stored in the output directory.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			reportsPath := m.Path(viper.GetString(outputFlagName))
			return workflow.View(cmd.Context(), domain.ViewArgs{Reports: reportsPath})
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
