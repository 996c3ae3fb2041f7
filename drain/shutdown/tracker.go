package shutdown

import (
	"context"

	"github.com/LerianStudio/lib-drain/drain/conntrack"
	"github.com/LerianStudio/lib-drain/drain/log"
)

// Tracker receives connection lifecycle events from the host.
//
// Per connection the events form the machine Idle ⇄ Busy → Closed. Events for
// an id that is already closed are ignored.
type Tracker struct {
	orchestrator *Orchestrator
}

// OnOpen registers handle as an idle connection. The host passes the returned
// id to every later event for this connection.
func (t *Tracker) OnOpen(handle any) conntrack.ID {
	return t.orchestrator.registry.Register(handle)
}

// OnRequestStart marks id busy.
func (t *Tracker) OnRequestStart(id conntrack.ID) {
	t.orchestrator.registry.MarkBusy(id)
}

// OnResponseFinish marks id idle. While a shutdown is draining, the connection
// is closed right away instead of waiting for the next drain pass.
func (t *Tracker) OnResponseFinish(id conntrack.ID) {
	o := t.orchestrator

	if !o.registry.MarkIdle(id) {
		return
	}

	if o.State() != StateDraining {
		return
	}

	ctx := context.Background()

	if o.destroyOne(ctx, o.logger, id, false, reasonOpportunistic) {
		o.logger.Log(ctx, log.LevelDebug, "closed connection that became idle while draining",
			log.Uint64("connection_id", uint64(id)))
	}
}

// OnClose forgets id. It is safe to call for a connection the orchestrator
// already destroyed.
func (t *Tracker) OnClose(id conntrack.ID) {
	t.orchestrator.registry.Remove(id)
}
