// Package logger wires the process-wide zerolog logger and hands out
// component-scoped child loggers for the runtime's major subsystems.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, valid after Initialize.
var Log zerolog.Logger

// Initialize configures the global logger's level and output format.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "pulsehost").Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Loader returns a logger scoped to a specific plugin's loader task.
func Loader(pluginName string) *zerolog.Logger {
	l := Log.With().Str("component", "loader").Str("plugin", pluginName).Logger()
	return &l
}

// DataStore returns a logger scoped to the DataStore.
func DataStore() *zerolog.Logger {
	l := Log.With().Str("component", "datastore").Logger()
	return &l
}

// EventTask returns a logger scoped to the event task.
func EventTask() *zerolog.Logger {
	l := Log.With().Str("component", "eventtask").Logger()
	return &l
}

// Host returns a logger scoped to the host runtime (discovery/loading).
func Host() *zerolog.Logger {
	l := Log.With().Str("component", "host").Logger()
	return &l
}

// WebSocket returns a logger scoped to the dashboard websocket bridge.
func WebSocket() *zerolog.Logger {
	l := Log.With().Str("component", "websocket").Logger()
	return &l
}

// Settings returns a logger scoped to the settings store.
func Settings() *zerolog.Logger {
	l := Log.With().Str("component", "settings").Logger()
	return &l
}
