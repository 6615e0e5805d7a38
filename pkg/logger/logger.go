// Package logger is a thin zerolog wrapper with per-module context and a
// yaml configuration surface.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const keyModule = "module"

type (
	Logger struct {
		zl zerolog.Logger
	}

	Config struct {
		DefaultLevel  string `yaml:"defaultLevel"`
		OutputPath    string `yaml:"outputPath"`
		ConsoleFormat bool   `yaml:"consoleFormat"`
	}
)

func New(level string, out io.Writer, consoleFormat bool) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if consoleFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000000"}
	}
	zl := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}, nil
}

// NewNop returns a logger that discards everything, used in tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func LoadConfig(fileName string) (Config, error) {
	cfg := Config{DefaultLevel: zerolog.LevelInfoValue}
	data, err := os.ReadFile(filepath.Clean(fileName))
	if err != nil {
		return cfg, fmt.Errorf("failed to read logger config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal logger config: %w", err)
	}
	return cfg, nil
}

func NewFromConfig(cfg Config) (*Logger, error) {
	out := io.Writer(os.Stdout)
	if cfg.OutputPath != "" {
		file, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = file
	}
	level := cfg.DefaultLevel
	if level == "" {
		level = zerolog.LevelInfoValue
	}
	return New(level, out, cfg.ConsoleFormat)
}

// WithModule returns a sub-logger tagged with the module name.
func (l *Logger) WithModule(name string) *Logger {
	return &Logger{zl: l.zl.With().Str(keyModule, name).Logger()}
}

func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warning(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}
