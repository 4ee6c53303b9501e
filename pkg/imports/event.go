package imports

import (
	"context"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/store"
)

// EventImporter imports hearings and other scheduled events. Agenda items
// reference bills and people; those references are window-scoped to the
// event date.
type EventImporter struct {
	imp *Importer
}

// NewEventImporter creates the event importer.
func NewEventImporter(imp *Importer) *EventImporter {
	return &EventImporter{imp: imp}
}

// Definition returns the event entity definition.
func (ei *EventImporter) Definition() *civic.EntityDef {
	return civic.Event
}

// Transform stamps the run's jurisdiction and resolves references in the
// event and its agenda.
func (ei *EventImporter) Transform(ctx context.Context, rec *Record) error {
	if asString(rec.Fields["jurisdiction_id"]) == "" {
		rec.Fields["jurisdiction_id"] = ei.imp.resolver.jurisdictionID
	}
	date := asString(rec.Fields["start_date"])
	rc := RefContext{WindowStart: date, WindowEnd: date}
	return ei.imp.resolver.ResolveRecordRefs(ctx, civic.Event, rec, rc, ei.imp.opts.TolerantReferences)
}

// NaturalKey matches events by jurisdiction, name, and start date. Two
// hearings with the same name on the same day are the same event.
func (ei *EventImporter) NaturalKey(_ context.Context, fields map[string]any) (store.Spec, error) {
	return store.NewSpec("events").
		Where("jurisdiction_id", fields["jurisdiction_id"]).
		Where("name", fields["name"]).
		Where("start_date", fields["start_date"]), nil
}

// PostImport is a no-op for events.
func (ei *EventImporter) PostImport(_ context.Context) error {
	return nil
}
