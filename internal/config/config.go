// Package config resolves flags, environment variables and config files into
// a single sync.Task.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	syncpkg "github.com/MarkoPoloResearchLab/treesync/internal/sync"
	"github.com/spf13/viper"
)

const (
	SourceKey            = "source"
	DestinationKey       = "destination"
	ExcludeKey           = "exclude"
	ExcludeExtensionsKey = "exclude-extensions"
	IgnoreFileKey        = "ignore-file"
	DryRunKey            = "dry-run"
	ReportFileKey        = "report-file"

	// Keys understood for config files written by the earlier backup tool.
	legacySourceKey             = "backup-src"
	legacyDestinationKey        = "backup-dest"
	legacyFolderExclusionsKey   = "folder-exclusions"
	legacyFilenameExclusionsKey = "filename-exclusions"
	legacyFiletypeExclusionsKey = "filetype-exclusions"

	EnvPrefix         = "TREESYNC"
	DefaultConfigFile = "treesync.yaml"
)

// ReadConfigFile loads path into v. An empty path falls back to
// DefaultConfigFile in the working directory, which may be absent.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return syncpkg.NewConfigurationError("config", DefaultConfigFile, err)
		}
		path = DefaultConfigFile
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return syncpkg.NewConfigurationError("config", path, err)
	}
	return nil
}

// Load builds the Task described by v. It does not touch the filesystem
// beyond reading the optional ignore file; root validation happens in Sync.
func Load(v *viper.Viper) (syncpkg.Task, error) {
	source := firstNonEmpty(v.GetString(SourceKey), v.GetString(legacySourceKey))
	if source == "" {
		return syncpkg.Task{}, syncpkg.NewConfigurationError(SourceKey, "", syncpkg.ErrMissingValue)
	}
	destination := firstNonEmpty(v.GetString(DestinationKey), v.GetString(legacyDestinationKey))
	if destination == "" {
		return syncpkg.Task{}, syncpkg.NewConfigurationError(DestinationKey, "", syncpkg.ErrMissingValue)
	}

	var matchers []syncpkg.Matcher
	if names := syncpkg.NewNameSet(stringList(v, ExcludeKey)...); len(names) > 0 {
		matchers = append(matchers, names)
	}
	// The backup tool kept folder and file name lists apart.
	if folders := syncpkg.NewNameSet(stringList(v, legacyFolderExclusionsKey)...); len(folders) > 0 {
		matchers = append(matchers, syncpkg.DirsOnly(folders))
	}
	if files := syncpkg.NewNameSet(stringList(v, legacyFilenameExclusionsKey)...); len(files) > 0 {
		matchers = append(matchers, syncpkg.FilesOnly(files))
	}
	extensions := syncpkg.NewExtensionSet(stringList(v,
		ExcludeExtensionsKey, legacyFiletypeExclusionsKey)...)
	if len(extensions) > 0 {
		matchers = append(matchers, extensions)
	}
	if ignoreFile := v.GetString(IgnoreFileKey); ignoreFile != "" {
		gitIgnore, err := syncpkg.LoadGitIgnoreFile(ignoreFile)
		if err != nil {
			return syncpkg.Task{}, syncpkg.NewConfigurationError(IgnoreFileKey, ignoreFile, err)
		}
		matchers = append(matchers, gitIgnore)
	}

	return syncpkg.Task{
		SourceRoot: source,
		DestRoot:   destination,
		Exclusions: syncpkg.AnyOf(matchers...),
		DryRun:     v.GetBool(DryRunKey),
	}, nil
}

// stringList merges the list values of keys. Environment variables arrive as
// a single string, so comma separated items are split as well.
func stringList(v *viper.Viper, keys ...string) []string {
	var out []string
	for _, key := range keys {
		for _, item := range v.GetStringSlice(key) {
			for _, part := range strings.Split(item, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
