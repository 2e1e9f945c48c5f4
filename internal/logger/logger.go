package logger

import (
	"os"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/sirupsen/logrus"
)

// AppName is attached to every entry so log aggregation can filter on it
const AppName = "market-gateway"

// Init initializes the logger with the given configuration
func Init(cfg config.LoggingConfig) {
	// In production mode, only show errors and warnings
	var level logrus.Level
	if cfg.Production {
		level = logrus.WarnLevel
	} else {
		var err error
		level, err = logrus.ParseLevel(cfg.Level)
		if err != nil {
			logrus.Warnf("Invalid log level %s, using info", cfg.Level)
			level = logrus.InfoLevel
		}
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	logrus.SetOutput(os.Stdout)
}

// WithComponent returns a logger tagged with the emitting component
func WithComponent(component string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"component": component,
		"app":       AppName,
	})
}

// WithExchange returns a logger with exchange field
func WithExchange(exchange string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"exchange": exchange,
		"app":      AppName,
	})
}

// WithSymbol returns a logger with exchange and symbol fields
func WithSymbol(exchange, symbol string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"exchange": exchange,
		"symbol":   symbol,
		"app":      AppName,
	})
}
