// Package grouping orders flattened rows and folds them into
// owner/folder groups for display.
package grouping

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sjf/psyche-search/pkg/models"
)

// SortKey selects the row attribute driving the sort.
type SortKey string

const (
	SortByName   SortKey = "name"
	SortBySize   SortKey = "size"
	SortBySpeed  SortKey = "speed"
	SortByOwner  SortKey = "owner"
	SortByPath   SortKey = "path"
	SortByStatus SortKey = "status"
)

// Direction is the sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// ParseSortKey maps a user-supplied key name to a SortKey, defaulting
// to name.
func ParseSortKey(s string) SortKey {
	switch SortKey(strings.ToLower(s)) {
	case SortBySize, SortBySpeed, SortByOwner, SortByPath, SortByStatus:
		return SortKey(strings.ToLower(s))
	default:
		return SortByName
	}
}

// groupKey identifies a folder line: same owner, same container path.
type groupKey struct {
	owner     string
	container string
}

// GroupAndSort sorts rows by the requested key (locale-aware for
// textual keys, numeric for size/speed) with SourcePath-ascending tie
// breaks, then folds them into (owner, container) groups in first-seen
// order. Group order is not re-sorted after assembly: the sort key
// governs row order, groups accumulate where their first member lands.
// The input slice is not modified.
func GroupAndSort(rows []models.Row, key SortKey, dir Direction) []models.Group {
	sorted := SortRows(rows, key, dir)

	groups := []models.Group{}
	index := make(map[groupKey]int)
	for _, row := range sorted {
		gk := groupKey{owner: row.OwnerID, container: row.ContainerPath}
		i, ok := index[gk]
		if !ok {
			i = len(groups)
			index[gk] = i
			groups = append(groups, models.Group{
				OwnerID:       row.OwnerID,
				ContainerPath: row.ContainerPath,
				MaxFreeSlots:  models.FreeSlotsUnknown,
			})
		}
		g := &groups[i]
		g.Rows = append(g.Rows, row)
		if row.Speed > g.MaxSpeed {
			g.MaxSpeed = row.Speed
		}
		if row.FreeSlots > g.MaxFreeSlots {
			g.MaxFreeSlots = row.FreeSlots
		}
	}
	return groups
}

// SortRows returns a sorted copy of rows. Re-sorting by the same key
// and direction is a no-op thanks to the deterministic tie break.
func SortRows(rows []models.Row, key SortKey, dir Direction) []models.Row {
	sorted := make([]models.Row, len(rows))
	copy(sorted, rows)

	coll := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(sorted, func(i, j int) bool {
		c := compare(coll, sorted[i], sorted[j], key)
		if dir == Descending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return sorted[i].SourcePath < sorted[j].SourcePath
	})
	return sorted
}

func compare(coll *collate.Collator, a, b models.Row, key SortKey) int {
	switch key {
	case SortBySize:
		return compareInt64(a.Size, b.Size)
	case SortBySpeed:
		return compareInt64(a.Speed, b.Speed)
	case SortByOwner:
		return coll.CompareString(a.OwnerID, b.OwnerID)
	case SortByPath:
		return coll.CompareString(a.ContainerPath, b.ContainerPath)
	case SortByStatus:
		return coll.CompareString(a.Status, b.Status)
	default:
		return coll.CompareString(a.FileName, b.FileName)
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
