package kafka

import (
	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// kgoLogger routes franz-go client logs onto a logrus entry.
type kgoLogger struct {
	entry *logrus.Entry
}

func newKgoLogger(entry *logrus.Entry) kgo.Logger {
	return &kgoLogger{entry: entry.WithField("component", "kafka.franz")}
}

func (l *kgoLogger) Level() kgo.LogLevel {
	switch l.entry.Logger.GetLevel() {
	case logrus.TraceLevel, logrus.DebugLevel:
		return kgo.LogLevelDebug
	case logrus.InfoLevel:
		return kgo.LogLevelInfo
	case logrus.WarnLevel:
		return kgo.LogLevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return kgo.LogLevelError
	}
	return kgo.LogLevelNone
}

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok {
			fields[k] = keyvals[i+1]
		}
	}

	entry := l.entry.WithFields(fields)
	switch level {
	case kgo.LogLevelError:
		entry.Error(msg)
	case kgo.LogLevelWarn:
		entry.Warn(msg)
	case kgo.LogLevelInfo:
		entry.Info(msg)
	default:
		entry.Trace("[KAFKA] " + msg)
	}
}

// KafkaLogger adapts a logrus entry to segmentio/kafka-go's Logger.
type KafkaLogger struct {
	Logger *logrus.Entry
}

func (l *KafkaLogger) Printf(message string, args ...interface{}) {
	l.Logger.Tracef("[KAFKA] "+message, args...)
}

// KafkaErrorLogger is KafkaLogger for kafka-go's ErrorLogger.
type KafkaErrorLogger struct {
	Logger *logrus.Entry
}

func (l *KafkaErrorLogger) Printf(message string, args ...interface{}) {
	l.Logger.Errorf("[KAFKA] "+message, args...)
}
