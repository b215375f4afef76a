package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// ChainArchiver keeps raw chain artefacts for later reconciliation.
type ChainArchiver interface {
	ArchiveReceipt(ctx context.Context, chainID int64, kind string, receipt *types.Receipt) (string, error)
	ArchiveLogs(ctx context.Context, chainID int64, from, to uint64, logs []types.Log) (string, error)
}
