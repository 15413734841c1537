// Package flatten projects hierarchical daemon snapshots into flat row
// collections.
package flatten

import (
	"strings"

	"github.com/sjf/psyche-search/pkg/models"
	"github.com/sjf/psyche-search/pkg/protocol"
)

// RootPlaceholder labels files sitting directly under an owner with no
// folder segment.
const RootPlaceholder = "(root)"

// Rows flattens a tree snapshot into rows. The root's immediate
// children are owners; each owner's subtree is walked depth-first,
// accumulating directory names (excluding the owner level) into a
// slash-joined container path. Non-ready or malformed snapshots yield
// an empty slice, never a panic. Pure and idempotent.
func Rows(snap protocol.TreeSnapshot) []models.Row {
	rows := []models.Row{}
	if !snap.Converged() || len(snap.Tree.Children) == 0 {
		return rows
	}

	for _, owner := range snap.Tree.Children {
		if owner == nil || owner.Type != protocol.NodeDir {
			continue
		}
		rows = walk(owner.Name, owner, nil, rows)
	}
	return rows
}

func walk(ownerID string, node *protocol.SnapshotNode, segments []string, rows []models.Row) []models.Row {
	for _, child := range node.Children {
		if child == nil {
			continue
		}
		switch child.Type {
		case protocol.NodeDir:
			segment := child.Name
			if segment == "" {
				segment = RootPlaceholder
			}
			rows = walk(ownerID, child, append(segments, segment), rows)
		case protocol.NodeFile:
			rows = append(rows, fileRow(ownerID, child, segments))
		}
	}
	return rows
}

func fileRow(ownerID string, node *protocol.SnapshotNode, segments []string) models.Row {
	owner := ownerID
	if node.User != "" {
		owner = node.User
	}
	freeSlots := models.FreeSlotsUnknown
	if node.FreeSlots != nil {
		freeSlots = *node.FreeSlots
	}
	return models.Row{
		OwnerID:       owner,
		ContainerPath: strings.Join(segments, "/"),
		FileName:      node.Name,
		Size:          node.Size,
		Speed:         node.Speed,
		FreeSlots:     freeSlots,
		Attributes:    node.Attributes,
		SourcePath:    node.Path,
	}
}

// FromDownloads maps the daemon's pre-flattened download list into the
// shared row shape so the downloads view groups, sorts, and caches
// identically to search rows. The virtual path is the identity; the
// display path's last backslash segment names the file.
func FromDownloads(items []protocol.DownloadItem) []models.Row {
	rows := make([]models.Row, 0, len(items))
	for _, item := range items {
		name := item.Path
		if i := strings.LastIndex(name, "\\"); i >= 0 {
			name = name[i+1:]
		}
		rows = append(rows, models.Row{
			OwnerID:       item.User,
			ContainerPath: item.Folder,
			FileName:      name,
			Size:          item.Size,
			FreeSlots:     models.FreeSlotsUnknown,
			SourcePath:    item.VirtualPath,
			Status:        item.Status,
			Offset:        item.Offset,
			LocalPath:     item.LocalPath,
		})
	}
	return rows
}
