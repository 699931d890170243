/*
bm2-bench-controller - Leveled logging shared by the bench tools
Copyright (C) 2023, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger so callers get Info/Debugf/Println etc.
type Logger struct {
	*logrus.Logger
}

// LogArgs can be embedded in a go-arg Args struct to add a log level flag.
type LogArgs struct {
	LogLevel string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

// NewLogger returns a logger writing "[LEVEL] message" lines to stderr.
func NewLogger(level string) *Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = new(customFormatter)
	lvl, known := parseLevel(level)
	l.SetLevel(lvl)
	if !known {
		l.Warnf("Unknown log level '%s', defaulting to info", level)
	}
	return &Logger{Logger: l}
}

func parseLevel(level string) (logrus.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel, true
	case "info", "":
		return logrus.InfoLevel, true
	case "warn", "warning":
		return logrus.WarnLevel, true
	case "error":
		return logrus.ErrorLevel, true
	default:
		return logrus.InfoLevel, false
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}
