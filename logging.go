package wflow

import (
	"os"

	"github.com/sirupsen/logrus"
)

// defaultLogger matches the teacher project's package-level logger shape:
// a *logrus.Logger written to stderr with a warn-level default, overridable
// per Graph via WithLogger.
var defaultLogger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.WarnLevel,
}

func loggerOrDefault(l *logrus.Logger) *logrus.Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}
