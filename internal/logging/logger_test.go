package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLevelFromEnv(t *testing.T) {
	cases := []struct {
		in   string
		want logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"debug", logrus.DebugLevel},
		{" WARN ", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"verbose", logrus.InfoLevel},
	}
	for _, c := range cases {
		if got := levelFromEnv(c.in); got != c.want {
			t.Fatalf("levelFromEnv(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewUsesJSONFormatter(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	l := New()
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("formatter = %T, want *logrus.JSONFormatter", l.Formatter)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", l.GetLevel())
	}
}
