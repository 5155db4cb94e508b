package config

import (
	"go.uber.org/zap/zapcore"

	"go.viam.com/camcalib/logging"
)

// InitLoggingSettings sets logger's level from the command line debug flag and the file's debug field;
// either one turns debug logging on.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag bool, cfg *Config) {
	level := zapcore.InfoLevel
	if cmdLineDebugFlag || (cfg != nil && cfg.Debug) {
		level = zapcore.DebugLevel
	}
	logger.SetLevel(level)
	logger.Debug("Log level initialized: ", level)
}
