package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yairfalse/awsdecomm/internal/config"
)

var (
	version = "0.1.0"

	configFiles []string
	configDir   string
	profileName string
	debug       bool

	rootCmd = &cobra.Command{
		Use:   "awsdecomm",
		Short: "Decommission hosts that are gone from AWS",
		Long: `awsdecomm - decommission handler

Reads one monitoring event from stdin. For a create event, every configured
AWS account is asked whether the host still exists. If it is gone everywhere,
the host is removed from the monitoring API and from every Chef organization.
If it is still running anywhere, nothing is removed and an alert is mailed.
Every run ends with exactly one email.`,
		Example: `  awsdecomm < event.json                      # Handle an event from stdin
  awsdecomm -j awsdecomm_prod --event e.json  # Other settings section, event from file
  awsdecomm validate                          # Check settings only
  awsdecomm history --host web01              # Past runs for a host`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runHandler,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`awsdecomm {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringArrayVarP(&configFiles, "config", "c", []string{"/etc/sensu/config.json"}, "Settings file (repeatable, later files win)")
	flags.StringVar(&configDir, "config-dir", "/etc/sensu/conf.d", "Directory of additional *.json settings files")
	flags.StringVarP(&profileName, "json_config", "j", config.DefaultProfile, "Settings section holding the handler configuration")
	flags.BoolVar(&debug, "debug", false, "Human-readable debug logging")

	rootCmd.Flags().StringVar(&eventFile, "event", "", "Read the event from a file instead of stdin")
}

// settingsPaths returns the explicit files followed by the *.json files of
// the settings directory, if it exists.
func settingsPaths() ([]string, error) {
	paths := append([]string(nil), configFiles...)
	if configDir == "" {
		return paths, nil
	}

	info, err := os.Stat(configDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return paths, nil
	case err != nil:
		return nil, fmt.Errorf("stat config dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("config dir %s is not a directory", configDir)
	}

	extra, err := filepath.Glob(filepath.Join(configDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list config dir: %w", err)
	}
	return append(paths, extra...), nil
}

func loadProfile() (*config.Settings, *config.Profile, error) {
	paths, err := settingsPaths()
	if err != nil {
		return nil, nil, err
	}
	settings, err := config.Load(paths...)
	if err != nil {
		return nil, nil, err
	}
	profile, err := settings.Profile(profileName)
	if err != nil {
		return nil, nil, err
	}
	return settings, profile, nil
}
