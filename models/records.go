package models

import (
	"encoding/json"
	"slices"
	"time"
)

// DefaultRequiredReplicas is the target replica count given to a file record
// when the blob oracle offers no hint.
const DefaultRequiredReplicas = 2

/*
	Persisted state units. Both records are stored as field-named JSON objects
	so new fields can be added without breaking records written by older
	builds. Readers must treat every field as optional.
*/

// NodeRecord is the latest self-reported status of a worker node.
type NodeRecord struct {
	NodeID            string          `json:"nodeId"`
	RemainingCapacity float64         `json:"remainingCapacity"`
	ProcessingLoad    json.RawMessage `json:"processingLoad,omitempty"`
	LastReportedAt    time.Time       `json:"lastReportedAt"`
}

// FileRecord is the replication state of a single file.
type FileRecord struct {
	FileID            string   `json:"fileId"`
	RequiredReplicas  int      `json:"requiredReplicas"`
	AssignedNodes     []string `json:"assignedNodes"`
	CompletedReplicas int      `json:"completedReplicas"`
	LockCount         int      `json:"lockCount"`
}

// NewFileRecord returns a record with zero counters and an empty assignment set.
func NewFileRecord(fileID string, requiredReplicas int) FileRecord {
	return FileRecord{
		FileID:           fileID,
		RequiredReplicas: requiredReplicas,
		AssignedNodes:    []string{},
	}
}

func (f FileRecord) IsLocked() bool {
	return f.LockCount > 0
}

// IsComplete reports whether enough replicas have finished to meet the target.
func (f FileRecord) IsComplete() bool {
	return f.CompletedReplicas >= f.RequiredReplicas
}

func (f FileRecord) HasNode(nodeID string) bool {
	return slices.Contains(f.AssignedNodes, nodeID)
}

// BlobPresence is a blob oracle's answer for one file. ReplicaHint is nil when
// the blob store carries no replica count for the file.
type BlobPresence struct {
	Exists      bool
	ReplicaHint *int
}
