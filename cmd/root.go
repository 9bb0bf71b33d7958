package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devgate/config"
	"devgate/database"
	"devgate/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile          string
	dbPath           string
	appLogPathFlag   string
	proxyLogPathFlag string
	logLevelFlag     string
)

// Values for the "db" command annotation.
const (
	dbAnnotation = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

func expandTildeCmd(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

var rootCmd = &cobra.Command{
	Use:   "devgate",
	Short: "Front-end development gateway",
	Long: `devgate serves a front-end project during development. It serves static files
through an ordered plugin chain and forwards matching request paths to remote
backends, rewriting the origin and path the way the browser application expects.

Every proxied exchange can be recorded to a local SQLite database and inspected
from the command line or the admin API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile, appLogPathFlag, proxyLogPathFlag, logLevelFlag); err != nil {
			return fmt.Errorf("failed to initialize config in PersistentPreRunE: %w", err)
		}

		mode := dbMode(cmd)
		if mode == "" {
			return nil
		}

		finalDBPath := resolveDBPath()
		logger.Info("PersistentPreRunE: Attempting to InitDB with final path: '%s'", finalDBPath)
		if err := database.InitDB(finalDBPath); err != nil {
			if mode == dbRequired {
				return fmt.Errorf("failed to initialize database at %s: %w", finalDBPath, err)
			}
			logger.Error("Database unavailable at %s, traffic will not be recorded: %v", finalDBPath, err)
			return nil
		}
		logger.Info("Database initialized at: %s", finalDBPath)
		return nil
	},
}

// dbMode returns the nearest "db" annotation on cmd or its parents.
func dbMode(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if mode, ok := c.Annotations[dbAnnotation]; ok {
			return mode
		}
	}
	return ""
}

// resolveDBPath picks the database path from --dbpath, then config, then the working directory.
func resolveDBPath() string {
	finalDBPath := dbPath
	if finalDBPath == "" {
		finalDBPath = config.Current().Database.Path
		logger.Debug("PersistentPreRunE: --dbpath flag was empty, using config path: '%s'", finalDBPath)
	}
	if expanded, err := expandTildeCmd(finalDBPath); err != nil {
		logger.Error("Error expanding tilde in database path '%s': %v. Using original.", finalDBPath, err)
	} else {
		finalDBPath = expanded
	}
	if finalDBPath == "" {
		logger.Error("PersistentPreRunE: Database path is empty after checking flag and config! Falling back to 'devgate.db' in CWD.")
		finalDBPath = "devgate.db"
	}
	return finalDBPath
}

// executeRoot runs the command tree and closes the database however the command ends.
func executeRoot() error {
	defer closeDatabase()
	return rootCmd.Execute()
}

func closeDatabase() {
	if err := database.CloseDB(); err != nil {
		logger.Error("Closing database: %v", err)
	}
}

func Execute() {
	if err := executeRoot(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./devgate.yaml or $HOME/.config/devgate/devgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "", "path to SQLite database file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&appLogPathFlag, "app-log", "", "path for the application log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&proxyLogPathFlag, "proxy-log", "", "path for the proxy log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR (overrides config/default)")
}
