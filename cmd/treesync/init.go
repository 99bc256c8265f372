package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/MarkoPoloResearchLab/treesync/internal/config"
	"github.com/MarkoPoloResearchLab/treesync/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// starterExclusions seeds a new config file when no exclusions are configured.
var starterExclusions = []string{"node_modules", ".git", "__pycache__", ".DS_Store"}

type starterConfig struct {
	Source            string   `yaml:"source"`
	Destination       string   `yaml:"destination"`
	Exclude           []string `yaml:"exclude"`
	ExcludeExtensions []string `yaml:"exclude-extensions"`
	IgnoreFile        string   `yaml:"ignore-file"`
	DryRun            bool     `yaml:"dry-run"`
	ReportFile        string   `yaml:"report-file,omitempty"`
	LogLevel          string   `yaml:"log-level"`
	LogFile           string   `yaml:"log-file,omitempty"`
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Generate a starter " + config.DefaultConfigFile + " configuration file",
		Long: `Create a config file (default ./` + config.DefaultConfigFile + `) populated with the current
settings so it can be edited manually. An existing file is never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetPath := config.DefaultConfigFile
			if len(args) == 1 {
				targetPath = args[0]
			}

			if err := writeStarterConfig(targetPath, currentStarterConfig()); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			if logger != nil {
				logger.Info("config file written", zap.String("path", targetPath))
			}
			cmd.Printf("wrote %s\n", targetPath)
			return nil
		},
	}
}

func currentStarterConfig() starterConfig {
	exclude := viper.GetStringSlice(config.ExcludeKey)
	if len(exclude) == 0 {
		exclude = starterExclusions
	}
	extensions := viper.GetStringSlice(config.ExcludeExtensionsKey)
	if extensions == nil {
		extensions = []string{}
	}
	return starterConfig{
		Source:            viper.GetString(config.SourceKey),
		Destination:       viper.GetString(config.DestinationKey),
		Exclude:           exclude,
		ExcludeExtensions: extensions,
		IgnoreFile:        viper.GetString(config.IgnoreFileKey),
		DryRun:            viper.GetBool(config.DryRunKey),
		ReportFile:        viper.GetString(config.ReportFileKey),
		LogLevel:          viper.GetString(logging.LevelKey),
		LogFile:           viper.GetString(logging.FileKey),
	}
}

func writeStarterConfig(path string, cfg starterConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
