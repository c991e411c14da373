package models

import (
	"encoding/json"
	"time"
)

/*
	Request and response payloads for the service API.
*/

// NodeUpdate is what a worker node pushes on every heartbeat. RemainingCapacity
// is a pointer so that an absent value can be told apart from zero.
type NodeUpdate struct {
	NodeID            string          `json:"nodeId"`
	RemainingCapacity *float64        `json:"remainingCapacity"`
	ProcessingLoad    json.RawMessage `json:"processingLoad,omitempty"`
}

type FileNodePayload struct {
	FileID string `json:"fileId"`
	NodeID string `json:"nodeId,omitempty"`
}

type FilePayload struct {
	FileID string `json:"fileId"`
}

// Outcome names the successful result of a file coordinator mutation.
type Outcome string

const (
	OutcomeAssigned          Outcome = "assigned"
	OutcomeAlreadyAssigned   Outcome = "already_assigned"
	OutcomeCountUpdated      Outcome = "count_updated"
	OutcomeReplicasCompleted Outcome = "replicas_completed"
	OutcomeLocked            Outcome = "locked"
	OutcomeNotLocked         Outcome = "not_locked"
	OutcomeUnlocked          Outcome = "unlocked"
	OutcomeStillLocked       Outcome = "still_locked"
	OutcomeUpdated           Outcome = "updated"
	OutcomeDeleted           Outcome = "deleted"
)

var outcomeMessages = map[Outcome]string{
	OutcomeAssigned:          "Node assigned",
	OutcomeAlreadyAssigned:   "Node already assigned",
	OutcomeCountUpdated:      "File replica count updated",
	OutcomeReplicasCompleted: "File replicas completed",
	OutcomeLocked:            "File locked",
	OutcomeNotLocked:         "File is not currently locked",
	OutcomeUnlocked:          "File completely unlocked",
	OutcomeStillLocked:       "File lock released",
	OutcomeUpdated:           "Node status updated",
	OutcomeDeleted:           "Deleted",
}

func (o Outcome) Message() string {
	if msg, ok := outcomeMessages[o]; ok {
		return msg
	}
	return string(o)
}

// OpResponse is returned by every successful mutating route.
type OpResponse struct {
	Outcome   Outcome     `json:"outcome"`
	Message   string      `json:"message"`
	LockCount *int        `json:"lockCount,omitempty"`
	Record    *FileRecord `json:"record,omitempty"`
}

type ErrorResponse struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

type NodeListResponse struct {
	Data []NodeRecord `json:"data"`
}

type FileListResponse struct {
	Data []FileRecord `json:"data"`
}

type PingResponse struct {
	InstanceID string        `json:"instanceId"`
	StartedAt  time.Time     `json:"startedAt"`
	Uptime     time.Duration `json:"uptime"`
	FileShards int           `json:"fileShards"`
}
