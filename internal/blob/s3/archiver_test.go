package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memWriter) Put(_ context.Context, path string, data []byte, contentType string) error {
	m.objects[path] = data
	m.types[path] = contentType
	return nil
}

func newArchiver() (*Archiver, *memWriter) {
	w := &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
	a := NewArchiver(w)
	a.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }
	return a, w
}

func TestArchiveReceipt(t *testing.T) {
	t.Parallel()
	a, w := newArchiver()
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: big.NewInt(9),
		Logs:        []*types.Log{},
	}

	path, err := a.ArchiveReceipt(context.Background(), 100, "deploy", receipt)
	if err != nil {
		t.Fatalf("ArchiveReceipt: %v", err)
	}
	prefix := "chains/100/receipts/deploy/2026-03-04/" + receipt.TxHash.Hex() + "-"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, ".json") {
		t.Fatalf("path=%s want prefix %s", path, prefix)
	}
	if w.types[path] != "application/json" {
		t.Fatalf("content type=%s", w.types[path])
	}
	var back map[string]any
	if err := json.Unmarshal(w.objects[path], &back); err != nil {
		t.Fatalf("stored receipt is not JSON: %v", err)
	}
	if back["transactionHash"] != receipt.TxHash.Hex() {
		t.Fatalf("tx=%v want %s", back["transactionHash"], receipt.TxHash.Hex())
	}
}

func TestArchiveLogsWritesOneLinePerLog(t *testing.T) {
	t.Parallel()
	a, w := newArchiver()
	logs := []types.Log{
		{Address: common.HexToAddress("0x01"), Topics: []common.Hash{{1}}, Data: []byte{}, BlockNumber: 10},
		{Address: common.HexToAddress("0x02"), Topics: []common.Hash{{2}}, Data: []byte{}, BlockNumber: 11, Index: 1},
	}

	path, err := a.ArchiveLogs(context.Background(), 100, 10, 60, logs)
	if err != nil {
		t.Fatalf("ArchiveLogs: %v", err)
	}
	if !strings.HasPrefix(path, "chains/100/logs/000000000010-000000000060-") {
		t.Fatalf("path=%s", path)
	}
	lines := bytes.Split(bytes.TrimSpace(w.objects[path]), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines=%d want 2", len(lines))
	}
}

func TestArchiveNilReceipt(t *testing.T) {
	t.Parallel()
	a, w := newArchiver()
	if _, err := a.ArchiveReceipt(context.Background(), 1, "deploy", nil); err == nil {
		t.Fatal("expected error")
	}
	if len(w.objects) != 0 {
		t.Fatalf("objects=%d want 0", len(w.objects))
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"minio.internal:9000", true, "https://minio.internal:9000"},
		{"https://r2.example.com", false, "https://r2.example.com"},
	}
	for _, c := range cases {
		if got := normaliseEndpoint(c.in, c.ssl); got != c.want {
			t.Fatalf("normaliseEndpoint(%q, %v)=%q want %q", c.in, c.ssl, got, c.want)
		}
	}
}
