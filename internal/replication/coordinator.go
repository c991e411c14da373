// Package replication tracks, per file, how many replicas are required, which
// nodes have claimed the work, how many have finished and whether the file is
// locked.
//
// Files are spread over a fixed set of shards by a hash of their id. Every
// shard owns its own storage partition and mutex, and each operation holds the
// shard mutex across its whole get-modify-put so no two requests for the same
// file can interleave.
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/InsulaLabs/fleet/internal/tkv"
	"github.com/InsulaLabs/fleet/models"
)

// Store is one shard's storage partition, one entry per file id.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
	List() ([]tkv.Entry, error)
}

// Oracle reports whether the blob for a file exists and, optionally, how many
// replicas it wants.
type Oracle interface {
	Exists(ctx context.Context, fileID string) (models.BlobPresence, error)
}

type Config struct {
	Logger          *slog.Logger
	Shards          []Store
	Oracle          Oracle
	DefaultReplicas int // <= 0 selects models.DefaultRequiredReplicas
}

// Result is the outcome of a successful mutation along with the record as it
// was left in storage. Record is nil when no record exists.
type Result struct {
	Outcome models.Outcome
	Record  *models.FileRecord
}

type shard struct {
	mu    sync.Mutex
	store Store
}

type Coordinator struct {
	logger          *slog.Logger
	shards          []*shard
	oracle          Oracle
	defaultReplicas int
}

var (
	ErrNoShards = errors.New("at least one shard store is required")
	ErrNoOracle = errors.New("a blob oracle is required")
)

func New(cfg Config) (*Coordinator, error) {
	if len(cfg.Shards) == 0 {
		return nil, ErrNoShards
	}
	if cfg.Oracle == nil {
		return nil, ErrNoOracle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultReplicas := cfg.DefaultReplicas
	if defaultReplicas <= 0 {
		defaultReplicas = models.DefaultRequiredReplicas
	}

	shards := make([]*shard, len(cfg.Shards))
	for i, store := range cfg.Shards {
		shards[i] = &shard{store: store}
	}

	return &Coordinator{
		logger:          logger.WithGroup("replication"),
		shards:          shards,
		oracle:          cfg.Oracle,
		defaultReplicas: defaultReplicas,
	}, nil
}

// ShardFor maps a file id onto one of n shards using FNV-1a.
func ShardFor(fileID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(fileID))
	return int(h.Sum32() % uint32(n))
}

func (c *Coordinator) ShardCount() int {
	return len(c.shards)
}

func (c *Coordinator) DefaultReplicas() int {
	return c.defaultReplicas
}

func (c *Coordinator) shardFor(fileID string) *shard {
	return c.shards[ShardFor(fileID, len(c.shards))]
}

// Assign records that nodeID has claimed replication work for the file. The
// record must already exist. Assigning beyond RequiredReplicas is allowed.
func (c *Coordinator) Assign(fileID, nodeID string) (Result, error) {
	if err := models.ValidateID("fileId", fileID); err != nil {
		return Result{}, err
	}
	if err := models.ValidateID("nodeId", nodeID); err != nil {
		return Result{}, err
	}

	s := c.shardFor(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.load(fileID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, &models.ErrNotFound{Kind: "file", ID: fileID}
	}

	if record.HasNode(nodeID) {
		return Result{Outcome: models.OutcomeAlreadyAssigned, Record: &record}, nil
	}

	record.AssignedNodes = append(record.AssignedNodes, nodeID)
	if err := s.save(record); err != nil {
		c.logger.Error("Could not persist assignment", "file_id", fileID, "node_id", nodeID, "error", err)
		return Result{}, err
	}

	c.logger.Debug("Node assigned", "file_id", fileID, "node_id", nodeID, "assigned", len(record.AssignedNodes))
	return Result{Outcome: models.OutcomeAssigned, Record: &record}, nil
}

// Complete counts one finished replica. Reaching the target does not remove
// the record.
func (c *Coordinator) Complete(fileID string) (Result, error) {
	if err := models.ValidateID("fileId", fileID); err != nil {
		return Result{}, err
	}

	s := c.shardFor(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.load(fileID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, &models.ErrNotFound{Kind: "file", ID: fileID}
	}

	record.CompletedReplicas++
	if err := s.save(record); err != nil {
		c.logger.Error("Could not persist completion", "file_id", fileID, "error", err)
		return Result{}, err
	}

	outcome := models.OutcomeCountUpdated
	if record.IsComplete() {
		outcome = models.OutcomeReplicasCompleted
	}
	c.logger.Debug("Replica completed",
		"file_id", fileID,
		"completed", record.CompletedReplicas,
		"required", record.RequiredReplicas)
	return Result{Outcome: outcome, Record: &record}, nil
}

// Status returns the file's record, creating it when the blob oracle confirms
// the blob exists. An oracle failure is reported as not found.
func (c *Coordinator) Status(ctx context.Context, fileID string) (models.FileRecord, error) {
	if err := models.ValidateID("fileId", fileID); err != nil {
		return models.FileRecord{}, err
	}

	s := c.shardFor(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.load(fileID)
	if err != nil {
		return models.FileRecord{}, err
	}
	if found {
		return record, nil
	}

	presence, err := c.oracle.Exists(ctx, fileID)
	if err != nil {
		c.logger.Warn("Blob oracle failed, reporting file as not found", "file_id", fileID, "error", err)
		return models.FileRecord{}, &models.ErrNotFound{Kind: "file", ID: fileID}
	}
	if !presence.Exists {
		return models.FileRecord{}, &models.ErrNotFound{Kind: "file", ID: fileID}
	}

	required := c.defaultReplicas
	if presence.ReplicaHint != nil && *presence.ReplicaHint >= 0 {
		required = *presence.ReplicaHint
	}

	record = models.NewFileRecord(fileID, required)
	if err := s.save(record); err != nil {
		c.logger.Error("Could not persist new file record", "file_id", fileID, "error", err)
		return models.FileRecord{}, err
	}

	c.logger.Info("File record created", "file_id", fileID, "required_replicas", required)
	return record, nil
}

// All returns every file record across all shards, in no particular order.
func (c *Coordinator) All() ([]models.FileRecord, error) {
	records := []models.FileRecord{}
	for i, s := range c.shards {
		shardRecords, err := s.all()
		if err != nil {
			c.logger.Error("Could not list file records", "shard", i, "error", err)
			return nil, err
		}
		records = append(records, shardRecords...)
	}
	return records, nil
}

// Lock increments the file's reentrant lock counter, creating an empty record
// with the default replica target when the file is unknown.
func (c *Coordinator) Lock(fileID string) (Result, error) {
	if err := models.ValidateID("fileId", fileID); err != nil {
		return Result{}, err
	}

	s := c.shardFor(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.load(fileID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		record = models.NewFileRecord(fileID, c.defaultReplicas)
	}

	record.LockCount++
	if err := s.save(record); err != nil {
		c.logger.Error("Could not persist lock", "file_id", fileID, "error", err)
		return Result{}, err
	}

	c.logger.Debug("File locked", "file_id", fileID, "lock_count", record.LockCount, "scaffolded", !found)
	return Result{Outcome: models.OutcomeLocked, Record: &record}, nil
}

// Unlock releases one hold on the file. Unlocking a file that is unknown or
// not locked changes nothing.
func (c *Coordinator) Unlock(fileID string) (Result, error) {
	if err := models.ValidateID("fileId", fileID); err != nil {
		return Result{}, err
	}

	s := c.shardFor(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.load(fileID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Outcome: models.OutcomeNotLocked}, nil
	}
	if !record.IsLocked() {
		return Result{Outcome: models.OutcomeNotLocked, Record: &record}, nil
	}

	record.LockCount--
	if record.LockCount < 0 {
		record.LockCount = 0
	}
	if err := s.save(record); err != nil {
		c.logger.Error("Could not persist unlock", "file_id", fileID, "error", err)
		return Result{}, err
	}

	outcome := models.OutcomeStillLocked
	if record.LockCount == 0 {
		outcome = models.OutcomeUnlocked
	}
	return Result{Outcome: outcome, Record: &record}, nil
}

// Delete removes the file's record. Deleting an unknown file succeeds.
func (c *Coordinator) Delete(fileID string) error {
	if err := models.ValidateID("fileId", fileID); err != nil {
		return err
	}

	s := c.shardFor(fileID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(fileID); err != nil {
		c.logger.Error("Could not delete file record", "file_id", fileID, "error", err)
		return &models.ErrStorage{Op: "delete", Key: fileID, Err: err}
	}
	c.logger.Info("File record deleted", "file_id", fileID)
	return nil
}

// load must be called with s.mu held.
func (s *shard) load(fileID string) (models.FileRecord, bool, error) {
	raw, err := s.store.Get(fileID)
	if err != nil {
		var nf *tkv.ErrKeyNotFound
		if errors.As(err, &nf) {
			return models.FileRecord{}, false, nil
		}
		return models.FileRecord{}, false, &models.ErrStorage{Op: "get", Key: fileID, Err: err}
	}
	record, err := decode(fileID, raw)
	if err != nil {
		return models.FileRecord{}, false, err
	}
	return record, true, nil
}

// save must be called with s.mu held.
func (s *shard) save(record models.FileRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return &models.ErrStorage{Op: "encode", Key: record.FileID, Err: err}
	}
	if err := s.store.Set(record.FileID, string(raw)); err != nil {
		return &models.ErrStorage{Op: "put", Key: record.FileID, Err: err}
	}
	return nil
}

func (s *shard) all() ([]models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.List()
	if err != nil {
		return nil, &models.ErrStorage{Op: "list", Err: err}
	}
	records := make([]models.FileRecord, 0, len(entries))
	for _, entry := range entries {
		record, err := decode(entry.Key, entry.Value)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func decode(key, raw string) (models.FileRecord, error) {
	var record models.FileRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return models.FileRecord{}, &models.ErrStorage{Op: "decode", Key: key, Err: err}
	}
	if record.FileID == "" {
		record.FileID = key
	}
	if record.AssignedNodes == nil {
		record.AssignedNodes = []string{}
	}
	return record, nil
}
