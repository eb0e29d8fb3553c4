package queue

import (
	"fmt"
	"os"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// asynqLogger routes Asynq's internal logging through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...), "source", "asynq")
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...), "source", "asynq")
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...), "source", "asynq")
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...), "source", "asynq")
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...), "source", "asynq", "fatal", true)
	os.Exit(1)
}
