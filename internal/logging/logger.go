package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New 返回 JSON 格式的 logger，级别由 LOG_LEVEL 决定（默认 info）
func New() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(levelFromEnv(os.Getenv("LOG_LEVEL")))
	return l
}

func levelFromEnv(v string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
