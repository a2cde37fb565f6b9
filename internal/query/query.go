// Package query defines the data model and delivery queue for a single
// output request against a recipe raster: the footprints a caller wants
// computed, and the bounded, backpressured, in-order queue the engine
// delivers them through.
package query

import (
	"github.com/rasterflow/rasterflow/internal/geom"
)

// Info describes one admitted query: the sequence of footprints a
// caller wants, and — for a recipe-of-recipe query, where one raster's
// Producer is itself a consumer of another raster's query — the parent
// query this one was issued on behalf of, so output updates can
// propagate back up the chain (see ParentUID/KeyInParent below).
type Info struct {
	UID          string
	RasterUID    string
	Footprints   []geom.Footprint
	MaxQueueSize int

	// ParentUID/KeyInParent are set only for queries a recipe raster
	// issues against one of its own primitive inputs; they let the
	// primitive's QueriesHandler notify the parent recipe's
	// ProductionGate when one of its outputs updates.
	ParentUID   string
	KeyInParent string
}

// IsSubQuery reports whether this query was issued on behalf of another
// raster's query rather than directly by an external caller.
func (i Info) IsSubQuery() bool { return i.ParentUID != "" }
