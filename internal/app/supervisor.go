// internal/app/supervisor.go
package app

import (
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// NewSupervisor creates the root supervisor with slog event logging.
func NewSupervisor(logger *slog.Logger) *suture.Supervisor {
	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}
	return suture.New("sipp-sync", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}
