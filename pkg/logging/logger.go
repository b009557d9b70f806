// Package logging builds the application logger and keeps identifying
// signals out of log output.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New constructs a zap logger appropriate for the environment. Local and test
// environments get the human-readable development config; everything else
// logs structured JSON.
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	switch env {
	case "local", "test":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
