package model

import (
	"encoding/json"
	"time"
)

type SnapshotKind string

const (
	SnapshotEstimate   SnapshotKind = "ESTIMATE"
	SnapshotSearch     SnapshotKind = "SEARCH"
	SnapshotNavHistory SnapshotKind = "NAV_HISTORY"
)

// FundSnapshot is one cached unit of external fund data. Stale is set when a
// refresh failed and the previous payload is served past its window.
type FundSnapshot struct {
	FundCode  string          `json:"fundCode"`
	Kind      SnapshotKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Stale     bool            `json:"-"`
}
