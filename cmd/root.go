// Package cmd provides the root command and CLI setup for taintaudit.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"taintaudit.dev/pkg/taintaudit/internal/adapter"
	"taintaudit.dev/pkg/taintaudit/internal/controller"
	"taintaudit.dev/pkg/taintaudit/internal/domain"
)

// Process exit codes.
const (
	exitFailure  = 1
	exitHighRisk = 2
)

var fsAdapter adapter.SourceFSAdapter
var reportStore adapter.ReportStore
var ruleFileAdapter adapter.RuleFileAdapter
var workflow domain.Workflow
var ui controller.UI

// outputDirFlag is a root-level flag shared by commands that read/write reports.
var outputDirFlag string

// noCacheFlag disables incremental caching when set.
var noCacheFlag bool

// verboseFlag switches the log file to debug level.
var verboseFlag bool

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	fsAdapter = adapter.NewLocalSourceFSAdapter()
	reportStore = adapter.NewReportStore(fsAdapter)
	ruleFileAdapter = adapter.NewYAMLRuleFileAdapter(fsAdapter)
	workflow = domain.NewWorkflow(
		fsAdapter,
		reportStore,
		ruleFileAdapter,
		ui,
	)
}

const rootLongDescription = `taintaudit is a heuristic static taint-flow audit engine. It scans a source
tree with line-level rules for sources, sinks, sanitizers and guards, traces
approximate flows between them, and reports scored findings and attack chains.

Results are triage evidence from regular-expression matching, not sound
dataflow analysis.`

const scanLongDescription = `Scan a repository (default: current directory) and write the report,
the flows and the incremental cache into the output directory.

Exits with status 2 when a critical or high finding is Confirmed.`

// rootCmd represents the base command when called without any subcommands.
var rootCmd = baseRootCmd()

func baseRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "taintaudit",
		Short: "Heuristic static taint-flow audit",
		Long:  rootLongDescription,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(viper.GetString(logFilenameKey), viper.GetBool(logVerboseKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

// newRootCmd builds a fresh root command with its persistent flags.
func newRootCmd() *cobra.Command {
	cmd := baseRootCmd()
	configureRootFlags(cmd)

	return cmd
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().
		StringVarP(
			&outputDirFlag, outputFlagName, "o",
			viper.GetString(outputFlagName),
			"output directory for reports and the incremental cache",
		)
	bindFlagToConfig(cmd.PersistentFlags().Lookup(outputFlagName), outputFlagName)

	cmd.PersistentFlags().BoolVar(&noCacheFlag, noCacheFlagName, viper.GetBool(noCacheFlagName), "ignore cached hits and rescan every file")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(noCacheFlagName), noCacheFlagName)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log debug details to the log file")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, domain.ErrHighRiskConfirmed) {
		return exitHighRisk
	}

	return exitFailure
}
