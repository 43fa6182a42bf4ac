package core

import "github.com/hupe1980/pdlcmesh/logging"

// loggerAdapter gives run and tool contexts LogX helpers whose records
// carry the fields bound at construction (run id, session, call id).
type loggerAdapter struct {
	logger logging.Logger
}

func newLoggerAdapter(l logging.Logger, fields ...any) *loggerAdapter {
	if l == nil {
		return &loggerAdapter{logger: logging.NoOpLogger{}}
	}
	if len(fields) > 0 {
		l = logging.With(l, fields...)
	}
	return &loggerAdapter{logger: l}
}

// Logger returns the bound logger.
func (l *loggerAdapter) Logger() logging.Logger { return l.logger }

func (l *loggerAdapter) LogDebug(msg string, args ...any) { l.logger.Debug(msg, args...) }

func (l *loggerAdapter) LogInfo(msg string, args ...any) { l.logger.Info(msg, args...) }

func (l *loggerAdapter) LogWarn(msg string, args ...any) { l.logger.Warn(msg, args...) }

func (l *loggerAdapter) LogError(msg string, args ...any) { l.logger.Error(msg, args...) }
