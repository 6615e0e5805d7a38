package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stakegate/stakegate/pkg/logger"
)

type baseConfiguration struct {
	// The stakegate home directory.
	HomeDir string
	// Configuration file URL. If it's relative, then it's relative from the HomeDir.
	CfgFile string
	// Logger configuration file URL.
	LogCfgFile string

	Logger *logger.Logger
}

const (
	// The prefix for configuration keys inside environment.
	envPrefix = "STAKEGATE"
	// The default name for config file.
	defaultConfigFile = "config.props"
	// The default stakegate directory.
	defaultHomeDirName = ".stakegate"
	// The default logger configuration file name.
	defaultLoggerConfigFile = "logger-config.yaml"

	keyHome   = "home"
	keyConfig = "config"

	flagNameLoggerCfgFile = "logger-config"
)

func (r *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.HomeDir, keyHome, "", fmt.Sprintf("set the STAKEGATE_HOME for this invocation (default is %s)", stakegateHomeDir()))
	cmd.PersistentFlags().StringVar(&r.CfgFile, keyConfig, "", fmt.Sprintf("config file URL (default is $STAKEGATE_HOME/%s)", defaultConfigFile))
	cmd.PersistentFlags().StringVar(&r.LogCfgFile, flagNameLoggerCfgFile, defaultLoggerConfigFile, "logger config file URL. Considered absolute if starts with '/'. Otherwise relative from $STAKEGATE_HOME.")
}

func (r *baseConfiguration) initConfigFileLocation() {
	// Home dir is loaded from command line argument. If it's not set, then
	// from env. If that's not set, then default is used.
	if r.HomeDir == "" {
		r.HomeDir = os.Getenv(envKey(keyHome))
		if r.HomeDir == "" {
			r.HomeDir = stakegateHomeDir()
		}
	}
	if r.CfgFile == "" {
		r.CfgFile = os.Getenv(envKey(keyConfig))
		if r.CfgFile == "" {
			r.CfgFile = defaultConfigFile
		}
	}
	if !filepath.IsAbs(r.CfgFile) {
		r.CfgFile = filepath.Join(r.HomeDir, r.CfgFile)
	}
}

func (r *baseConfiguration) configFileExists() bool {
	_, err := os.Stat(r.CfgFile)
	return err == nil
}

func (r *baseConfiguration) initLogger() error {
	logCfgFile := r.LogCfgFile
	if !filepath.IsAbs(logCfgFile) {
		logCfgFile = filepath.Join(r.HomeDir, logCfgFile)
	}
	cfg, err := logger.LoadConfig(logCfgFile)
	if err != nil {
		// A missing logger config file is not an error, defaults apply.
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = logger.Config{DefaultLevel: "info", ConsoleFormat: true}
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	r.Logger = log
	return nil
}

func envKey(key string) string {
	return strings.ToUpper(envPrefix + "_" + key)
}

func stakegateHomeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		panic("default user home dir not defined: " + err.Error())
	}
	return filepath.Join(dir, defaultHomeDirName)
}
