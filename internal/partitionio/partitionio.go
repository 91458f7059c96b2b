// Package partitionio is the C2 Partition Storage Adapter: an opaque
// write/locate contract consumed by the lifecycle engine and ingestion.
// Real blob drivers (local FS, S3, GCS, Azure) are an explicit non-goal;
// this package exposes the contract plus a deterministic local-FS
// implementation suitable for tests and single-node deployments, mirroring
// how the teacher treats infrastructure/storage as a pure-function seam
// behind an interface rather than baking a specific driver into callers.
package partitionio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

// RowSource is a pre-encoded row payload (the executor/compactor hands the
// adapter already-serialized bytes; how those bytes were produced is out of
// scope here).
type RowSource struct {
	Reader   io.Reader
	RowCount *int64
}

// WriteInput is the input to Adapter.WritePartition.
type WriteInput struct {
	DatasetSlug    string
	PartitionID    string
	PartitionKey   map[string]string
	TableName      string
	Source         RowSource
	RowCountHint   *int64
}

// WriteResult is the output of Adapter.WritePartition.
type WriteResult struct {
	RelativePath  string
	FileSizeBytes int64
	RowCount      int64
	Checksum      string
}

// Adapter is the C2 contract.
type Adapter interface {
	WritePartition(ctx context.Context, in WriteInput) (WriteResult, error)
	ResolvePartitionLocation(partition manifeststore.Partition, target manifeststore.StorageTarget) (string, error)
}

// LocalFSAdapter writes partitions beneath a root directory, keyed
// deterministically by partitionId so repeated writes for the same id are
// idempotent and locatable without a side index.
type LocalFSAdapter struct {
	Root string
}

// NewLocalFSAdapter returns an Adapter rooted at root.
func NewLocalFSAdapter(root string) *LocalFSAdapter {
	return &LocalFSAdapter{Root: root}
}

func (a *LocalFSAdapter) WritePartition(ctx context.Context, in WriteInput) (WriteResult, error) {
	if in.PartitionID == "" {
		return WriteResult{}, apperrors.Validation("partitionId is required")
	}
	relPath := filepath.Join(in.DatasetSlug, in.TableName, in.PartitionID+".partition")
	fullPath := filepath.Join(a.Root, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return WriteResult{}, apperrors.Wrap(apperrors.KindStorageIO, "create partition directory", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return WriteResult{}, apperrors.Wrap(apperrors.KindStorageIO, "create partition file", err)
	}
	defer f.Close()

	hasher := sha256.New()
	writer := io.MultiWriter(f, hasher)

	var written int64
	if in.Source.Reader != nil {
		n, err := io.Copy(writer, in.Source.Reader)
		if err != nil {
			return WriteResult{}, apperrors.Wrap(apperrors.KindStorageIO, "write partition bytes", err)
		}
		written = n
	}

	rowCount := int64(0)
	if in.Source.RowCount != nil {
		rowCount = *in.Source.RowCount
	} else if in.RowCountHint != nil {
		rowCount = *in.RowCountHint
	}

	return WriteResult{
		RelativePath:  relPath,
		FileSizeBytes: written,
		RowCount:      rowCount,
		Checksum:      hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ResolvePartitionLocation builds a stable URI the (out-of-scope) query
// engine can read directly, composed from the storage target and the
// partition's relative path.
func (a *LocalFSAdapter) ResolvePartitionLocation(partition manifeststore.Partition, target manifeststore.StorageTarget) (string, error) {
	switch target.Kind {
	case "local", "":
		return "file://" + filepath.Join(a.Root, target.Prefix, partition.FilePath), nil
	default:
		bucket := strings.TrimSuffix(target.Bucket, "/")
		prefix := strings.Trim(target.Prefix, "/")
		path := strings.TrimPrefix(partition.FilePath, "/")
		if prefix != "" {
			return fmt.Sprintf("%s://%s/%s/%s", target.Kind, bucket, prefix, path), nil
		}
		return fmt.Sprintf("%s://%s/%s", target.Kind, bucket, path), nil
	}
}

// NewPartitionID derives a deterministic partition id from a dataset,
// manifest shard, and time range, used by the lifecycle compactor when it creates
// replacement partitions so repeated chunk retries don't collide on
// distinct filenames for the same logical output.
func NewPartitionID(datasetID, manifestShard string, start, end time.Time) string {
	h := sha256.New()
	io.WriteString(h, datasetID+"|"+manifestShard+"|"+start.UTC().Format(time.RFC3339Nano)+"|"+end.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
