package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taintaudit.dev/pkg/taintaudit/internal/domain"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

var (
	scanKindsFlag    []string
	scanDepthFlag    int
	scanBudgetFlag   int
	scanParallelFlag int
	scanFocusFlag    []string
	scanWindowFlag   int
	scanRulesFlag    string
	scanSARIFFlag    bool
)

// scanCmd represents the scan command.
var scanCmd = newScanCmd()

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "scan [repo_root]",
		Short:        "Scan a repository for taint flows",
		Long:         scanLongDescription,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			_, err := workflow.Scan(cmd.Context(), domain.ScanArgs{
				RepoRoot:   m.Path(root),
				FocusPaths: viper.GetStringSlice(scanFocusConfigKey),
				Kinds:      parseKinds(viper.GetStringSlice(scanKindsConfigKey)),
				Depth:      viper.GetInt(scanDepthConfigKey),
				Budget:     viper.GetInt(scanBudgetConfigKey),
				Window:     viper.GetInt(scanWindowConfigKey),
				Workers:    viper.GetInt(scanParallelConfigKey),
				UseCache:   !viper.GetBool(noCacheFlagName),
				Output:     m.Path(viper.GetString(outputFlagName)),
				RulesFile:  m.Path(viper.GetString(rulesFileConfigKey)),
				SARIF:      viper.GetBool(reportSARIFConfigKey),
			})

			return err
		},
	}

	configureScanFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func configureScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&scanKindsFlag, kindsFlagName, "k", viper.GetStringSlice(scanKindsConfigKey), "taint kinds to report (cmd,path,query,template,ssrf,deser,memory,authz)")
	bindFlagToConfig(cmd.Flags().Lookup(kindsFlagName), scanKindsConfigKey)

	cmd.Flags().IntVarP(&scanDepthFlag, depthFlagName, "d", viper.GetInt(scanDepthConfigKey), "maximum caller hops for backward tracing")
	bindFlagToConfig(cmd.Flags().Lookup(depthFlagName), scanDepthConfigKey)

	cmd.Flags().IntVarP(&scanBudgetFlag, budgetFlagName, "b", viper.GetInt(scanBudgetConfigKey), "maximum number of files to scan (0 = unlimited)")
	bindFlagToConfig(cmd.Flags().Lookup(budgetFlagName), scanBudgetConfigKey)

	cmd.Flags().IntVarP(&scanParallelFlag, parallelFlagName, "p", viper.GetInt(scanParallelConfigKey), "number of parallel workers")
	bindFlagToConfig(cmd.Flags().Lookup(parallelFlagName), scanParallelConfigKey)

	cmd.Flags().StringArrayVarP(&scanFocusFlag, focusFlagName, "f", viper.GetStringSlice(scanFocusConfigKey), "limit the scan to these paths (repeatable, comma separated)")
	bindFlagToConfig(cmd.Flags().Lookup(focusFlagName), scanFocusConfigKey)

	cmd.Flags().IntVar(&scanWindowFlag, windowFlagName, viper.GetInt(scanWindowConfigKey), "forward scan window in lines (0 = derived from depth)")
	bindFlagToConfig(cmd.Flags().Lookup(windowFlagName), scanWindowConfigKey)

	cmd.Flags().StringVar(&scanRulesFlag, rulesFlagName, viper.GetString(rulesFileConfigKey), "YAML file with additional rules")
	bindFlagToConfig(cmd.Flags().Lookup(rulesFlagName), rulesFileConfigKey)

	cmd.Flags().BoolVar(&scanSARIFFlag, sarifFlagName, viper.GetBool(reportSARIFConfigKey), "also export findings as SARIF 2.1.0")
	bindFlagToConfig(cmd.Flags().Lookup(sarifFlagName), reportSARIFConfigKey)
}

func parseKinds(values []string) []m.TaintKind {
	kinds := make([]m.TaintKind, 0, len(values))

	for _, v := range values {
		for _, item := range splitList(v) {
			kinds = append(kinds, m.TaintKind(item))
		}
	}

	return kinds
}

func splitList(value string) []string {
	var out []string

	for _, item := range strings.Split(value, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}

	return out
}
