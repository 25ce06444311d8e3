// Package syncctl implements the syncctl command-line tool: a small
// cobra-based CLI that drives one usersync engine instance against the
// settingssync reference strategy. It stands in for the cross-resource
// orchestration layer usersync itself leaves out of scope.
package syncctl

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"usersync/internal/config"
	"usersync/pkg/logging"
)

// Exit codes for syncctl commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

var (
	flagConfigDir string
	flagSyncHome  string
	flagResource  string
	flagRemoteURL string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Drive a single usersync resource through its sync lifecycle",
	Long: `syncctl wires one usersync engine instance (settingssync strategy,
filesystem-backed local store, HTTP-backed remote store) and exposes its
operations on the command line: sync, pull, push, status, handles, and
resolve.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command; it is the only entry point main calls.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "syncctl version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitCodeError)
	}
}

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaults := config.Default()

	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", filepath.Join(home, ".config", "usersync"), "directory holding config.yaml")
	rootCmd.PersistentFlags().StringVar(&flagSyncHome, "sync-home", defaults.SyncHome, "directory holding last-sync records, backups, and watched resource files")
	rootCmd.PersistentFlags().StringVar(&flagResource, "resource", defaults.Resource, "name of the resource to operate on")
	rootCmd.PersistentFlags().StringVar(&flagRemoteURL, "remote-url", defaults.RemoteURL, "base URL of the remote store")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newPullCmd())
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHandlesCmd())
	rootCmd.AddCommand(newResolveCmd())

	cobra.OnInitialize(func() {
		level := logging.LevelInfo
		if flagVerbose {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)

		cfg, err := config.Load(flagConfigDir)
		if err != nil {
			logging.Warn("syncctl", "failed to load config from %s: %v", flagConfigDir, err)
			return
		}
		flags := rootCmd.PersistentFlags()
		if !flags.Changed("sync-home") {
			flagSyncHome = cfg.SyncHome
		}
		if !flags.Changed("resource") {
			flagResource = cfg.Resource
		}
		if !flags.Changed("remote-url") {
			flagRemoteURL = cfg.RemoteURL
		}
	})
}
