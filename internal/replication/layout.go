package replication

import (
	"fmt"
	"strconv"

	"github.com/InsulaLabs/fleet/internal/tkv"
	"github.com/pkg/errors"
)

const shardCountKey = "file_shards"

// ErrShardMismatch is returned when a data directory was laid out with a
// different number of file shards than the one configured. Records would
// hash to the wrong shard, so startup must stop.
type ErrShardMismatch struct {
	Stored     int
	Configured int
}

func (e *ErrShardMismatch) Error() string {
	return fmt.Sprintf("data directory has %d file shards, configuration asks for %d", e.Stored, e.Configured)
}

// MetaStore is the partition holding layout metadata.
type MetaStore interface {
	Get(key string) (string, error)
	Set(key string, value string) error
}

// EnsureLayout records the shard count on first start and verifies it on
// every start after that.
func EnsureLayout(meta MetaStore, shards int) error {
	if shards < 1 {
		return errors.Errorf("shard count must be at least 1, got %d", shards)
	}

	raw, err := meta.Get(shardCountKey)
	if err != nil {
		var nf *tkv.ErrKeyNotFound
		if !errors.As(err, &nf) {
			return errors.Wrap(err, "could not read shard layout")
		}
		if err := meta.Set(shardCountKey, strconv.Itoa(shards)); err != nil {
			return errors.Wrap(err, "could not record shard layout")
		}
		return nil
	}

	stored, err := strconv.Atoi(raw)
	if err != nil {
		return errors.Wrapf(err, "stored shard layout %q is not a number", raw)
	}
	if stored != shards {
		return &ErrShardMismatch{Stored: stored, Configured: shards}
	}
	return nil
}

// ShardPrefix is the storage prefix of file shard i.
func ShardPrefix(i int) string {
	return "files/" + strconv.Itoa(i) + "/"
}
