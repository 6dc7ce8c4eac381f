package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

func init() {
	log = logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	log.SetOutput(os.Stdout)
}

func Init(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level %s, defaulting to info", level)
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

func Debug(msg string, fields ...interface{}) {
	log.WithFields(parseFields(fields...)).Debug(msg)
}

func Info(msg string, fields ...interface{}) {
	log.WithFields(parseFields(fields...)).Info(msg)
}

func Warn(msg string, fields ...interface{}) {
	log.WithFields(parseFields(fields...)).Warn(msg)
}

func Error(msg string, fields ...interface{}) {
	log.WithFields(parseFields(fields...)).Error(msg)
}

func Fatal(msg string, fields ...interface{}) {
	log.WithFields(parseFields(fields...)).Fatal(msg)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// parseFields turns variadic key/value pairs into structured fields. Odd or
// non-string keys are dropped rather than panicking in a log call.
func parseFields(fields ...interface{}) logrus.Fields {
	f := make(logrus.Fields, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		f[key] = fields[i+1]
	}
	return f
}
