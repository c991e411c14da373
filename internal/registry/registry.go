// Package registry holds the latest self-reported status of every worker node
// and serves it ranked by remaining capacity.
//
// There is exactly one Registry per process. It owns its storage partition and
// handles one request at a time, so an update can never interleave with a
// listing or a removal.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/InsulaLabs/fleet/internal/tkv"
	"github.com/InsulaLabs/fleet/models"
)

// Store is the registry's storage partition, one entry per node id.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
	List() ([]tkv.Entry, error)
}

type Registry struct {
	logger *slog.Logger
	store  Store
	now    func() time.Time
	mu     sync.Mutex
}

type Option func(*Registry)

// WithClock replaces the time source used to stamp LastReportedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(logger *slog.Logger, store Store, opts ...Option) *Registry {
	r := &Registry{
		logger: logger.WithGroup("registry"),
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Update replaces the node's record wholesale. Nothing from a previous report
// survives, including ProcessingLoad when the new report omits it.
func (r *Registry) Update(update models.NodeUpdate) (models.NodeRecord, error) {
	if err := validateUpdate(update); err != nil {
		return models.NodeRecord{}, err
	}

	record := models.NodeRecord{
		NodeID:            update.NodeID,
		RemainingCapacity: *update.RemainingCapacity,
		ProcessingLoad:    normalizeLoad(update.ProcessingLoad),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record.LastReportedAt = r.now().UTC()

	raw, err := json.Marshal(record)
	if err != nil {
		return models.NodeRecord{}, &models.ErrStorage{Op: "encode", Key: record.NodeID, Err: err}
	}
	if err := r.store.Set(record.NodeID, string(raw)); err != nil {
		r.logger.Error("Could not persist node status", "node_id", record.NodeID, "error", err)
		return models.NodeRecord{}, &models.ErrStorage{Op: "put", Key: record.NodeID, Err: err}
	}

	r.logger.Debug("Node status updated", "node_id", record.NodeID, "remaining_capacity", record.RemainingCapacity)
	return record, nil
}

// List returns every known node, highest remaining capacity first. Nodes with
// equal capacity keep storage order.
func (r *Registry) List() ([]models.NodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.List()
	if err != nil {
		r.logger.Error("Could not list node statuses", "error", err)
		return nil, &models.ErrStorage{Op: "list", Err: err}
	}

	records := make([]models.NodeRecord, 0, len(entries))
	for _, entry := range entries {
		record, err := decode(entry.Key, entry.Value)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RemainingCapacity > records[j].RemainingCapacity
	})
	return records, nil
}

func (r *Registry) Get(nodeID string) (models.NodeRecord, error) {
	if err := models.ValidateID("nodeId", nodeID); err != nil {
		return models.NodeRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := r.store.Get(nodeID)
	if err != nil {
		var nf *tkv.ErrKeyNotFound
		if errors.As(err, &nf) {
			return models.NodeRecord{}, &models.ErrNotFound{Kind: "node", ID: nodeID}
		}
		return models.NodeRecord{}, &models.ErrStorage{Op: "get", Key: nodeID, Err: err}
	}
	return decode(nodeID, raw)
}

// Remove forgets a node. Removing a node that was never reported succeeds.
func (r *Registry) Remove(nodeID string) error {
	if err := models.ValidateID("nodeId", nodeID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(nodeID); err != nil {
		r.logger.Error("Could not remove node", "node_id", nodeID, "error", err)
		return &models.ErrStorage{Op: "delete", Key: nodeID, Err: err}
	}
	r.logger.Info("Node removed", "node_id", nodeID)
	return nil
}

func validateUpdate(update models.NodeUpdate) error {
	if err := models.ValidateID("nodeId", update.NodeID); err != nil {
		return err
	}
	if update.RemainingCapacity == nil {
		return &models.ErrValidation{Field: "remainingCapacity", Reason: "required"}
	}
	capacity := *update.RemainingCapacity
	if math.IsNaN(capacity) || math.IsInf(capacity, 0) {
		return &models.ErrValidation{Field: "remainingCapacity", Reason: "must be a finite number"}
	}
	if capacity < 0 {
		return &models.ErrValidation{Field: "remainingCapacity", Reason: "must not be negative"}
	}
	if len(update.ProcessingLoad) > 0 && !json.Valid(update.ProcessingLoad) {
		return &models.ErrValidation{Field: "processingLoad", Reason: "must be valid JSON"}
	}
	return nil
}

// normalizeLoad drops an explicit JSON null so it is stored as absent.
func normalizeLoad(load json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(load)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	return load
}

func decode(key, raw string) (models.NodeRecord, error) {
	var record models.NodeRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return models.NodeRecord{}, &models.ErrStorage{Op: "decode", Key: key, Err: err}
	}
	if record.NodeID == "" {
		record.NodeID = key
	}
	return record, nil
}
