package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/treesync/internal/config"
	"github.com/MarkoPoloResearchLab/treesync/internal/logging"
	syncpkg "github.com/MarkoPoloResearchLab/treesync/internal/sync"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	configFlagName     = "config"
	sourceFlagName     = "source"
	destFlagName       = "dest"
	excludeFlagName    = "exclude"
	excludeExtFlagName = "exclude-ext"
)

var (
	logger     *zap.Logger
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "treesync [flags] [source destination]",
		Short: "Mirror a directory tree into a backup destination",
		Long: `Copy every file from source into destination, creating directories as
needed. Entries whose name is excluded are skipped together with everything
beneath them. An existing destination file is replaced only when the source
copy has a newer modification time.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: runSync,
	}
)

func runSync(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		viper.Set(config.SourceKey, args[0])
	}
	if len(args) > 1 {
		viper.Set(config.DestinationKey, args[1])
	}
	cmd.SilenceUsage = true

	task, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := syncpkg.Sync(ctx, task, logger)
	if syncpkg.IsConfigurationError(err) {
		return err
	}

	printReport(cmd.OutOrStdout(), report)

	if reportFile := viper.GetString(config.ReportFileKey); reportFile != "" {
		if writeErr := report.WriteJSON(reportFile, time.Now()); writeErr != nil {
			logger.Error("write report", zap.String("path", reportFile), zap.Error(writeErr))
			if err == nil {
				err = writeErr
			}
		}
	}
	return err
}

func printReport(w io.Writer, report syncpkg.Report) {
	title := "Synchronization summary"
	if report.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(w, title)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Result", "Count"})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.Append([]string{"Directories created", strconv.Itoa(report.DirsCreated)})
	table.Append([]string{"Files copied", strconv.Itoa(report.FilesCopied)})
	table.Append([]string{"Files overwritten", strconv.Itoa(report.FilesOverwritten)})
	table.Append([]string{"Files up to date", strconv.Itoa(report.FilesUpToDate)})
	table.Append([]string{"Entries excluded", strconv.Itoa(report.Excluded)})
	table.Append([]string{"Entries unsupported", strconv.Itoa(report.Unsupported)})
	table.Append([]string{"Bytes copied", strconv.FormatInt(report.BytesCopied, 10)})
	table.Append([]string{"Failures", strconv.Itoa(len(report.Failures))})
	table.SetFooter([]string{"Duration", report.Duration.Round(time.Millisecond).String()})
	table.Render()

	if len(report.Failures) == 0 {
		return
	}
	fmt.Fprintln(w, "Failures:")
	for _, failure := range report.Failures {
		fmt.Fprintf(w, "  - %v\n", failure)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, configFlagName, "", "config file (default ./"+config.DefaultConfigFile+" when present)")
	flags.String(sourceFlagName, "", "source directory to mirror")
	flags.String(destFlagName, "", "destination directory")
	flags.StringSliceP(excludeFlagName, "x", nil, "basename to exclude at any depth (can be repeated)")
	flags.StringSlice(excludeExtFlagName, nil, "file extension to exclude (can be repeated)")
	flags.String(config.IgnoreFileKey, "", "path to a .gitignore-style file with extra patterns (none by default)")
	flags.Bool(config.DryRunKey, false, "report decisions without writing")
	flags.String(config.ReportFileKey, "", "write a JSON run report to this path")

	persistent := rootCmd.PersistentFlags()
	persistent.String(logging.LevelKey, "info", "log level")
	persistent.String(logging.FileKey, "", "also write JSON logs to this rotated file")
	persistent.Int(logging.MaxSizeKey, logging.DefaultMaxSize, "log file size in megabytes before rotation")
	persistent.Int(logging.MaxBackupsKey, logging.DefaultMaxBackups, "rotated log files to keep")
	persistent.Int(logging.MaxAgeKey, logging.DefaultMaxAge, "days to keep rotated log files")

	configureViper()

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd == rootCmd {
			if err := config.ReadConfigFile(viper.GetViper(), configPath); err != nil {
				return err
			}
		}
		var err error
		logger, err = logging.NewLogger()
		if err != nil {
			return err
		}
		return nil
	}

	rootCmd.AddCommand(newInitCmd(), newVersionCmd())
}

// configureViper wires environment variables and flags into the global Viper.
func configureViper() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.Flags()
	bindFlagToConfig(flags.Lookup(sourceFlagName), config.SourceKey)
	bindFlagToConfig(flags.Lookup(destFlagName), config.DestinationKey)
	bindFlagToConfig(flags.Lookup(excludeFlagName), config.ExcludeKey)
	bindFlagToConfig(flags.Lookup(excludeExtFlagName), config.ExcludeExtensionsKey)
	bindFlagToConfig(flags.Lookup(config.IgnoreFileKey), config.IgnoreFileKey)
	bindFlagToConfig(flags.Lookup(config.DryRunKey), config.DryRunKey)
	bindFlagToConfig(flags.Lookup(config.ReportFileKey), config.ReportFileKey)

	persistent := rootCmd.PersistentFlags()
	for _, key := range []string{logging.LevelKey, logging.FileKey, logging.MaxSizeKey, logging.MaxBackupsKey, logging.MaxAgeKey} {
		bindFlagToConfig(persistent.Lookup(key), key)
	}
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			os.Stderr.WriteString(err.Error() + "\n")
		}
		os.Exit(1)
	}
	if logger != nil {
		_ = logger.Sync()
	}
}
