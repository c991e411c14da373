package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/InsulaLabs/fleet/models"
	"github.com/pkg/errors"
)

const metaSuffix = ".meta"

// blobMeta is the optional sidecar stored next to a blob.
type blobMeta struct {
	Replicas *int `json:"replicas"`
}

// FSOracle answers existence questions from a local blob directory. Blobs are
// stored under the sha256 of their file id so ids with path separators or
// other special characters map to flat, safe file names.
type FSOracle struct {
	logger *slog.Logger
	dir    string
}

func NewFSOracle(logger *slog.Logger, dir string) (*FSOracle, error) {
	if dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create blob directory %s", dir)
	}
	return &FSOracle{
		logger: logger.WithGroup("fs_oracle"),
		dir:    dir,
	}, nil
}

// Path returns where the blob for fileID lives inside dir.
func Path(dir, fileID string) string {
	hasher := sha256.New()
	hasher.Write([]byte(fileID))
	return filepath.Join(dir, hex.EncodeToString(hasher.Sum(nil)))
}

func (o *FSOracle) Exists(ctx context.Context, fileID string) (models.BlobPresence, error) {
	if err := ctx.Err(); err != nil {
		return models.BlobPresence{}, err
	}

	path := Path(o.dir, fileID)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.BlobPresence{}, nil
		}
		return models.BlobPresence{}, errors.Wrapf(err, "could not stat blob for %s", fileID)
	}
	if info.IsDir() {
		return models.BlobPresence{}, errors.Errorf("blob path for %s is a directory", fileID)
	}

	presence := models.BlobPresence{Exists: true}

	raw, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if !os.IsNotExist(err) {
			o.logger.Warn("Could not read blob metadata, ignoring hint", "file_id", fileID, "error", err)
		}
		return presence, nil
	}

	var meta blobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		o.logger.Warn("Malformed blob metadata, ignoring hint", "file_id", fileID, "error", err)
		return presence, nil
	}
	if meta.Replicas != nil && *meta.Replicas >= 0 {
		presence.ReplicaHint = meta.Replicas
	}
	return presence, nil
}

// WriteMeta records a replica hint for fileID next to its blob.
func WriteMeta(dir, fileID string, replicas int) error {
	raw, err := json.Marshal(blobMeta{Replicas: &replicas})
	if err != nil {
		return err
	}
	return os.WriteFile(Path(dir, fileID)+metaSuffix, raw, 0644)
}
