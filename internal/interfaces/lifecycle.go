package interfaces

import (
	"context"

	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/screens"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string   `json:"state"`
	Screen           string   `json:"screen"`
	Device           string   `json:"device"`
	Variables        int      `json:"variables"`
	Widgets          int      `json:"widgets"`
	PollCycles       uint64   `json:"poll_cycles"`
	FailingVariables []string `json:"failing_variables,omitempty"`
	Clients          int      `json:"clients"`
	Error            string   `json:"error,omitempty"`
}

type LifecycleManager interface {
	Config() *config.Config
	Panel() *hmi.Panel
	Catalog() *screens.Catalog
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
