package cmd

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// time format for logging
const logTimeFormat = "2006-01-02 15:04:05"

// setupLogging configures the standard logrus logger.
func setupLogging(out io.Writer, level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetOutput(out)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimeFormat,
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: logTimeFormat,
		})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
