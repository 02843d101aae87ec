package common

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging sets up the standard logrus logger. format is "json" or "text",
// level is any level name understood by logrus (defaults to info).
func ConfigureLogging(format, level string) {
	logger := logrus.StandardLogger()
	logger.Out = os.Stdout
	if strings.EqualFold(format, "json") {
		logger.Formatter = &logrus.JSONFormatter{}
	} else {
		logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	logger.ReplaceHooks(logrus.LevelHooks{})
	logger.AddHook(&DefaultFieldsHook{})
}

type DefaultFieldsHook struct {
}

func (hook *DefaultFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook *DefaultFieldsHook) Fire(e *logrus.Entry) error {
	e.Data["serviceName"] = GetServiceName()
	e.Data["serviceInstance"] = GetServiceInstance()
	return nil
}
