package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// Archiver implements domain.ChainArchiver. Receipts are stored as JSON and
// log windows as JSONL, one log per line, under
//
//	chains/<chainID>/receipts/<kind>/<yyyy-mm-dd>/<tx>-<uuid>.json
//	chains/<chainID>/logs/<from>-<to>-<uuid>.jsonl
type Archiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewArchiver creates an Archiver writing through w.
func NewArchiver(w domain.BlobWriter) *Archiver {
	return &Archiver{writer: w, now: time.Now}
}

// ArchiveReceipt stores receipt and returns its object key.
func (a *Archiver) ArchiveReceipt(ctx context.Context, chainID int64, kind string, receipt *types.Receipt) (string, error) {
	if receipt == nil {
		return "", fmt.Errorf("s3blob: archive %s receipt: %w: nil receipt", kind, domain.ErrValidation)
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal receipt %s: %w", receipt.TxHash.Hex(), err)
	}
	path := fmt.Sprintf("chains/%d/receipts/%s/%s/%s-%s.json",
		chainID, kind, a.now().UTC().Format("2006-01-02"), receipt.TxHash.Hex(), uuid.NewString())
	if err := a.writer.Put(ctx, path, data, "application/json"); err != nil {
		return "", err
	}
	return path, nil
}

// ArchiveLogs stores the logs of the block window [from, to].
func (a *Archiver) ArchiveLogs(ctx context.Context, chainID int64, from, to uint64, logs []types.Log) (string, error) {
	data, err := marshalJSONL(logs)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal logs [%d,%d]: %w", from, to, err)
	}
	path := fmt.Sprintf("chains/%d/logs/%012d-%012d-%s.jsonl", chainID, from, to, uuid.NewString())
	if err := a.writer.Put(ctx, path, data, "application/x-ndjson"); err != nil {
		return "", err
	}
	return path, nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.ChainArchiver = (*Archiver)(nil)
