package rig

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns the text logger shared by the entry points. debug lowers
// the level to Debug.
func NewLogger(out io.Writer, debug bool) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
