// Package models contains the flattened row and group types shared
// across the synchronization layer.
package models

import "time"

// FreeSlotsUnknown marks a row whose uploader never reported slot
// availability. Kept as a plain int so rows stay value-comparable in
// cache round-trips.
const FreeSlotsUnknown = -1

// Row is one flattened, addressable file item projected from a tree
// snapshot or a download list entry.
type Row struct {
	OwnerID       string `json:"owner_id"`
	ContainerPath string `json:"container_path"`
	FileName      string `json:"file_name"`
	Size          int64  `json:"size"`
	Speed         int64  `json:"speed,omitempty"`
	FreeSlots     int    `json:"free_slots"`
	Attributes    string `json:"attributes,omitempty"`
	SourcePath    string `json:"source_path"`

	// Transfer-view extras; zero for search/browse rows.
	Status    string `json:"status,omitempty"`
	Offset    int64  `json:"offset,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// RowKey is the row identity: stable across repeated polls of the same
// owner/path even when size or speed change.
type RowKey struct {
	OwnerID    string
	SourcePath string
}

// Key returns the row's identity key.
func (r Row) Key() RowKey {
	return RowKey{OwnerID: r.OwnerID, SourcePath: r.SourcePath}
}

// Group is a run of rows sharing (owner, container), with the best
// uploader speed and slot count across its members for the folder line.
type Group struct {
	OwnerID       string `json:"owner_id"`
	ContainerPath string `json:"container_path"`
	Rows          []Row  `json:"rows"`
	MaxSpeed      int64  `json:"max_speed"`
	MaxFreeSlots  int    `json:"max_free_slots"`
}

// CacheEntry is the last good row set captured for one query key.
type CacheEntry struct {
	QueryKey   string    `json:"query_key"`
	Rows       []Row     `json:"rows"`
	CapturedAt time.Time `json:"captured_at"`
}
