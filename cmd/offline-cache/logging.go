package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

func setupLogging(s settings) {
	// set log level
	logLevel := zerolog.DebugLevel
	if s.Trace {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to a rotated logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if s.LogFile != "" {
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   s.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			LocalTime:  true,
		})
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	zerolog.DefaultContextLogger = &log.Logger
}
