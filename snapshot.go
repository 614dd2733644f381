package rstate

import "encoding/json"

// AxisSnapshot is the status of one axis of an async variable.
type AxisSnapshot struct {
	Pending   bool   `json:"pending"`
	Fulfilled bool   `json:"fulfilled"`
	Rejected  bool   `json:"rejected"`
	Error     string `json:"error,omitempty"`
}

// VarSnapshot is a point-in-time view of one variable, for diagnostics.
// Taking a snapshot does not record reads or start operations.
type VarSnapshot struct {
	Key            string        `json:"key"`
	Kind           string        `json:"kind"`
	Value          any           `json:"value"`
	Shape          string        `json:"shape,omitempty"`
	Initiated      bool          `json:"initiated,omitempty"`
	Get            *AxisSnapshot `json:"get,omitempty"`
	Set            *AxisSnapshot `json:"set,omitempty"`
	Staged         bool          `json:"staged,omitempty"`
	OverlayVisible bool          `json:"overlay_visible,omitempty"`
	StagedValue    any           `json:"staged_value,omitempty"`
}

type snapshotter interface {
	snapshot() VarSnapshot
}

func axisSnapshot(a axisState) *AxisSnapshot {
	s := &AxisSnapshot{
		Pending:   a.pending,
		Fulfilled: a.fulfilled,
		Rejected:  a.rejected,
	}
	if a.err != nil {
		s.Error = a.err.Error()
	}
	return s
}

// Snapshot returns the state of every variable in declaration order.
// Custom handlers that cannot describe themselves are reported by key and
// kind only.
func (c *Container) Snapshot() []VarSnapshot {
	out := make([]VarSnapshot, 0, len(c.keys))
	for _, key := range c.keys {
		if s, ok := c.handlers[key].(snapshotter); ok {
			out = append(out, s.snapshot())
			continue
		}
		out = append(out, VarSnapshot{Key: key, Kind: "custom"})
	}
	return out
}

// MarshalSnapshot encodes Snapshot as JSON.
func (c *Container) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}
