package handlers

import (
	"github.com/truepvp/backend/internal/arena"
	"github.com/truepvp/backend/internal/config"
	"github.com/truepvp/backend/internal/gate"
	"github.com/truepvp/backend/internal/history"
	"github.com/truepvp/backend/internal/verify"
	"github.com/truepvp/backend/internal/ws"
)

// Deps bundles the collaborators handlers close over.
type Deps struct {
	Cfg      *config.Config
	Queue    *arena.MatchQueue
	Registry *arena.Registry
	Hub      *ws.Hub
	Verifier *verify.Verifier
	Gate     *gate.Gate
	Events   *ws.Publisher
	History  *history.Recorder

	// OnPairing consumes a fresh pairing: session creation, metrics, events.
	// Shared with the sweep so both paths create sessions the same way.
	OnPairing func(*arena.Pairing)
}
