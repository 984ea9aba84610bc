package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter implements Logger on a zap core
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapLogger builds a zap logger writing config.Format lines to
// config.Output
func NewZapLogger(config LogConfig) (Logger, error) {
	encoding := zap.NewProductionEncoderConfig()
	encoding.TimeKey = "time"
	encoding.EncodeTime = zapcore.RFC3339TimeEncoder
	encoding.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	if config.Format == JSONFormat {
		encoder = zapcore.NewJSONEncoder(encoding)
	} else {
		encoding.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoding)
	}

	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), config.Level.zap())
	return &ZapAdapter{logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}, nil
}

func (z *ZapAdapter) Debug(msg string, fields ...Field) {
	z.logger.Debug(msg, toZap(fields)...)
}

func (z *ZapAdapter) Info(msg string, fields ...Field) {
	z.logger.Info(msg, toZap(fields)...)
}

func (z *ZapAdapter) Warn(msg string, fields ...Field) {
	z.logger.Warn(msg, toZap(fields)...)
}

func (z *ZapAdapter) Error(msg string, err error, fields ...Field) {
	zf := toZap(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	z.logger.Error(msg, zf...)
}

// WithFields returns a logger that adds fields to every line
func (z *ZapAdapter) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	return &ZapAdapter{logger: z.logger.With(toZap(fields)...)}
}

// WithContext returns a logger carrying the request id from ctx, if any
func (z *ZapAdapter) WithContext(ctx context.Context) Logger {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		return z
	}
	return &ZapAdapter{logger: z.logger.With(zap.String("request_id", requestID))}
}

// Sync flushes buffered entries
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok {
			out[i] = zap.NamedError(f.Key, err)
			continue
		}
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
