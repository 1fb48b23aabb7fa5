package cmd

import (
	"log/slog"

	"github.com/eduprism/journey/pkg/dispatch"
)

// NewDispatcher builds the outbound dispatcher. The log provider records
// every delivery without side effects; webhook adds real HTTP calls for
// webhook steps on top of it.
func NewDispatcher(provider string, logger *slog.Logger) dispatch.Dispatcher {
	switch provider {
	case "log":
		return dispatch.NewLogDispatcher(logger)
	default:
		return dispatch.NewWebhookDispatcher(logger, dispatch.NewLogDispatcher(logger))
	}
}
