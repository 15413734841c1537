// Package protocol defines the JSON types exchanged with the file-sharing daemon.
package protocol

// NodeType tags a snapshot node.
type NodeType string

const (
	NodeRoot NodeType = "root"
	NodeDir  NodeType = "dir"
	NodeFile NodeType = "file"
)

// SnapshotNode is one node of a hierarchical tree snapshot. The daemon
// nests owners as the root's immediate dir children; file leaves carry
// the transfer attributes.
type SnapshotNode struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Type       NodeType        `json:"type"`
	Path       string          `json:"path,omitempty"`
	Size       int64           `json:"size,omitempty"`
	User       string          `json:"user,omitempty"`
	Speed      int64           `json:"speed,omitempty"`
	FreeSlots  *int            `json:"free_slots,omitempty"`
	Attributes string          `json:"attributes,omitempty"`
	Children   []*SnapshotNode `json:"children,omitempty"`
}

// TreeStatus is the daemon's convergence tag for a tree snapshot.
type TreeStatus string

const (
	StatusEmpty    TreeStatus = "empty"
	StatusLoading  TreeStatus = "loading"
	StatusReady    TreeStatus = "ready"
	StatusNotFound TreeStatus = "not_found"
	// StatusError covers daemon-reported errors and transport-level
	// failures classified by the client; it never appears on the wire
	// with a tree attached.
	StatusError TreeStatus = "error"
)

// TreeSnapshot is one point-in-time response for a query key.
// Tree is non-nil only when Status is StatusReady.
type TreeSnapshot struct {
	Status TreeStatus    `json:"status"`
	Tree   *SnapshotNode `json:"tree"`
}

// Converged reports whether a snapshot carries displayable data and
// polling can stop.
func (s TreeSnapshot) Converged() bool {
	return s.Status == StatusReady && s.Tree != nil
}

// DownloadItem is one entry of GET /downloads.json. The daemon returns
// these pre-flattened; VirtualPath keeps the share-qualified path while
// Path has the leading share prefix stripped for display.
type DownloadItem struct {
	User        string `json:"user"`
	Path        string `json:"path"`
	VirtualPath string `json:"virtual_path"`
	Status      string `json:"status"`
	Size        int64  `json:"size"`
	Offset      int64  `json:"offset"`
	Folder      string `json:"folder"`
	LocalPath   string `json:"local_path,omitempty"`
}

// DaemonStatus is returned by GET /status.json.
type DaemonStatus struct {
	Status         string `json:"status"`
	Username       string `json:"username,omitempty"`
	ConnectionInfo string `json:"connection_info,omitempty"`
	ShareStatus    string `json:"share_status,omitempty"`
	ShareFiles     *int   `json:"share_files"`
	ShareFolders   *int   `json:"share_folders"`
}

// MediaMeta is returned by GET /media/meta and /media/audio-meta. The
// playback collaborator consumes it; this layer only probes existence
// and basic metadata before handing a path over.
type MediaMeta struct {
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Title       string `json:"title"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Duration    int64  `json:"duration,omitempty"`
	Bitrate     int64  `json:"bitrate,omitempty"`
}
