package cmd

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "taintaudit"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	outputFlagName   = "output"
	noCacheFlagName  = "no-cache"
	verboseFlagName  = "verbose"
	kindsFlagName    = "kinds"
	depthFlagName    = "depth"
	budgetFlagName   = "budget"
	parallelFlagName = "parallel"
	focusFlagName    = "focus"
	windowFlagName   = "window"
	rulesFlagName    = "rules"
	sarifFlagName    = "sarif"

	scanKindsConfigKey    = "scan.kinds"
	scanDepthConfigKey    = "scan.depth"
	scanBudgetConfigKey   = "scan.budget"
	scanParallelConfigKey = "scan.parallel"
	scanFocusConfigKey    = "scan.focus"
	scanWindowConfigKey   = "scan.window"
	rulesFileConfigKey    = "rules.file"
	reportSARIFConfigKey  = "report.sarif"

	defaultOutputDir    = ".taintaudit"
	defaultNoCache      = false
	defaultScanDepth    = 3
	defaultScanBudget   = 0
	defaultScanParallel = 4
	defaultScanWindow   = 0
	defaultReportSARIF  = false

	envPrefix = "TAINTAUDIT"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".taintaudit.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(outputFlagName, defaultOutputDir)
	viper.SetDefault(noCacheFlagName, defaultNoCache)
	viper.SetDefault(scanKindsConfigKey, defaultKinds())
	viper.SetDefault(scanDepthConfigKey, defaultScanDepth)
	viper.SetDefault(scanBudgetConfigKey, defaultScanBudget)
	viper.SetDefault(scanParallelConfigKey, defaultScanParallel)
	viper.SetDefault(scanFocusConfigKey, []string{})
	viper.SetDefault(scanWindowConfigKey, defaultScanWindow)
	viper.SetDefault(rulesFileConfigKey, "")
	viper.SetDefault(reportSARIFConfigKey, defaultReportSARIF)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return
		}

		slog.Warn("config file ignored", "file", configFileName, "error", err)
	}
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

func defaultKinds() []string {
	kinds := make([]string, 0, len(m.DefaultKinds))
	for _, k := range m.DefaultKinds {
		kinds = append(kinds, string(k))
	}

	return kinds
}
