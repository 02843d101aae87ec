package notification

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
)

// LogrusAdapter routes watermill logs to logrus.
type LogrusAdapter struct {
	entry *logrus.Entry
}

func NewLogrusAdapter(logger *logrus.Logger) watermill.LoggerAdapter {
	return &LogrusAdapter{entry: logrus.NewEntry(logger).WithField("component", "watermill")}
}

func (l *LogrusAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.with(fields).WithError(err).Error(msg)
}

func (l *LogrusAdapter) Info(msg string, fields watermill.LogFields) {
	l.with(fields).Info(msg)
}

func (l *LogrusAdapter) Debug(msg string, fields watermill.LogFields) {
	l.with(fields).Debug(msg)
}

func (l *LogrusAdapter) Trace(msg string, fields watermill.LogFields) {
	l.with(fields).Trace(msg)
}

func (l *LogrusAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &LogrusAdapter{entry: l.with(fields)}
}

func (l *LogrusAdapter) with(fields watermill.LogFields) *logrus.Entry {
	return l.entry.WithFields(logrus.Fields(fields))
}
