// Package ports defines the external interface contracts from spec.md §6.
// HTTP/gRPC/GraphQL front-ends are out of scope (SPEC_FULL.md §6), so these
// stay Go interfaces that cmd/incidentops wires to concrete implementations
// and that a real front-end would call directly in-process.
package ports

import (
	"context"
	"time"

	"github.com/sentrygrid/incidentops/pkg/alert"
	"github.com/sentrygrid/incidentops/pkg/broadcaster"
	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/processor"
	"github.com/sentrygrid/incidentops/pkg/store"
)

// IngressPort is the alert-submission contract satisfied by
// processor.Processor (spec.md §4.6).
type IngressPort interface {
	Process(ctx context.Context, req alert.Request, now time.Time) (processor.Ack, error)
}

// QueryPort is the read-side contract for listing and inspecting incidents.
type QueryPort interface {
	Get(ctx context.Context, id string) (*incident.Incident, error)
	List(ctx context.Context, filter store.Filter, page store.Page) ([]*incident.Incident, error)
	Count(ctx context.Context, filter store.Filter) (int, error)
}

// EventStream is the subscription contract satisfied by broadcaster.Broadcaster.
type EventStream interface {
	Subscribe(filter broadcaster.Filter, now time.Time) *broadcaster.Session
	Unsubscribe(id string)
	Heartbeat(id string, now time.Time)
}

var (
	_ IngressPort = (*processor.Processor)(nil)
	_ QueryPort   = store.Backend(nil)
	_ EventStream = (*broadcaster.Broadcaster)(nil)
)
