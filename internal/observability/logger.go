package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// InstanceLogger returns a child logger with workspace instance fields.
func InstanceLogger(base *zap.Logger, instanceID, workspaceID, ownerID string) *zap.Logger {
	return base.With(
		zap.String("instanceId", instanceID),
		zap.String("workspaceId", workspaceID),
		zap.String("userId", ownerID),
	)
}

// ClusterLogger returns a child logger scoped to one workspace cluster.
func ClusterLogger(base *zap.Logger, cluster string) *zap.Logger {
	return base.With(zap.String("cluster", cluster))
}
