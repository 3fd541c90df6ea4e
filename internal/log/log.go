package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// Logger returns the process-wide logger, building a production logger on
// first use. Wiring code may replace it once at startup via Set.
func Logger() *zap.Logger {
	once.Do(func() {
		if logger == nil {
			l, err := zap.NewProduction()
			if err != nil {
				panic(err)
			}
			logger = l
		}
	})
	return logger
}

// Set installs a custom logger, replacing any previously built one.
// Intended for main and for tests that want a nop logger.
func Set(l *zap.Logger) {
	logger = l
}
