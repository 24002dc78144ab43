package linker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the linker package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the linker package's logger.
// This must be called before any link is started.
func SetLogger(l *zap.Logger) {
	logger = l
}

// phase starts timing a link phase. The returned function logs its
// completion at debug level with the given fields.
func phase(name string) func(fields ...zap.Field) {
	start := time.Now()
	return func(fields ...zap.Field) {
		fields = append(fields,
			zap.String("phase", name),
			zap.Duration("elapsed", time.Since(start)),
		)
		Logger().Debug("phase complete", fields...)
	}
}
