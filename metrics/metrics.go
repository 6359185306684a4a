// Package metrics exposes Prometheus counters for the conversion
// engine. Register happens via promauto on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "macro_documents_built_total",
		Help: "Total number of Netzgrafik documents assembled.",
	})

	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "macro_events_handled_total",
		Help: "Total number of graph edit events handled, labelled by object and type.",
	}, []string{"object_type", "type"})

	EventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "macro_event_errors_total",
		Help: "Total number of graph edit events that failed.",
	})

	SearchPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "macro_search_pages_total",
		Help: "Total number of operational point search pages fetched.",
	})

	OrphanNodesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "macro_orphan_nodes_deleted_total",
		Help: "Total number of persisted nodes deleted because their train schedule is gone.",
	})
)
