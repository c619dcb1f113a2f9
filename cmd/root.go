package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/defreg/internal/app"
	"github.com/zjrosen/defreg/internal/config"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/presentation"
)

const defaultConfigPath = ".defreg/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgPath   string
	logClose  func()
)

var rootCmd = &cobra.Command{
	Use:   "defreg",
	Short: "A definition registry for bundle sources",
	Long: `defreg resolves named definitions from bundle sources, validates their
dependency closures and computes a UID per closure that changes whenever any
definition in it changes.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logClose != nil {
			logClose()
			logClose = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .defreg/config.yaml or ~/.config/defreg/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also DEFREG_DEBUG)")
	rootCmd.PersistentFlags().StringSliceP("root", "r", nil,
		"source root directory (repeatable, overrides sources.roots)")
	rootCmd.PersistentFlags().String("db", "",
		"SQLite source store path (overrides sources.db_path)")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	if debugFlag || log.EnabledFromEnv() {
		logPath := os.Getenv("DEFREG_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logClose = cleanup
		if raw := os.Getenv("DEFREG_LOG_LEVEL"); raw != "" {
			level, err := log.ParseLevel(raw)
			if err != nil {
				return err
			}
			log.SetMinLevel(level)
		}
	}

	v := viper.New()
	config.SetDefaults(v)
	_ = v.BindPFlag("sources.roots", cmd.Flags().Lookup("root"))
	_ = v.BindPFlag("sources.db_path", cmd.Flags().Lookup("db"))

	if err := readConfig(v); err != nil {
		return err
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded
	cfgPath = v.ConfigFileUsed()
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	log.Debug(log.CatConfig, "Loaded config", "path", cfgPath, "roots", cfg.Sources.Roots)
	return nil
}

// readConfig finds the config file. Lookup order:
// 1. --config
// 2. .defreg/config.yaml (current directory)
// 3. ~/.config/defreg/config.yaml (user config)
// When none exists a default is written to .defreg/config.yaml.
func readConfig(v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
		return nil
	}

	if _, err := os.Stat(defaultConfigPath); err == nil {
		v.SetConfigFile(defaultConfigPath)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "defreg"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		// No config file found anywhere. Continue with defaults if the
		// default file cannot be written.
		if writeErr := config.WriteDefaultConfig(defaultConfigPath); writeErr == nil {
			v.SetConfigFile(defaultConfigPath)
			return v.ReadInConfig()
		}
		return nil
	}
	return err
}

// openApp builds the registry from the loaded config.
func openApp() (*app.App, error) {
	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("starting registry: %w", err)
	}
	return a, nil
}

func formatter(cmd *cobra.Command) *presentation.Formatter {
	return presentation.NewFormatter(cmd.OutOrStdout())
}

// defTypeFlag registers --type on cmd with the given default.
func defTypeFlag(cmd *cobra.Command, def descriptor.DefType) {
	cmd.Flags().StringP("type", "t", def.String(), "definition type (COMPONENT, APPLICATION, EVENT, CONTROLLER, ...)")
}

func defTypeFromFlag(cmd *cobra.Command) (descriptor.DefType, error) {
	raw, err := cmd.Flags().GetString("type")
	if err != nil {
		return 0, err
	}
	return descriptor.ParseDefType(raw)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
