package relay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShanRaboy11/unitap/repository/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackWriterAppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w := NewFallbackWriter(path)
	defer w.Close()

	num := int64(4)
	hash := "0404"
	require.NoError(t, w.Append(&FallbackRecord{
		EventName: "TransactionCreated", Payload: []byte(`{"id":"t1"}`),
		TxID: "TX1", BlockNumber: &num, BlockHash: &hash,
		CreatedAt: "2026-01-15T08:30:00Z",
	}))
	require.NoError(t, w.Append(&FallbackRecord{
		EventName: "QrTokenVerified", Payload: []byte(`{"id":"sig-1"}`),
		TxID: "TX2", CreatedAt: "2026-01-15T08:30:01Z",
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t,
		`{"event_name":"TransactionCreated","payload":{"id":"t1"},"tx_id":"TX1","block_number":4,"block_hash":"0404","created_at":"2026-01-15T08:30:00Z"}`,
		lines[0])
	assert.JSONEq(t,
		`{"event_name":"QrTokenVerified","payload":{"id":"sig-1"},"tx_id":"TX2","block_number":null,"block_hash":null,"created_at":"2026-01-15T08:30:01Z"}`,
		lines[1])
}

func TestFallbackWriterReopensAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	w := NewFallbackWriter(path)
	require.NoError(t, w.Append(&FallbackRecord{TxID: "TX1", CreatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, w.Close())

	w = NewFallbackWriter(path)
	require.NoError(t, w.Append(&FallbackRecord{TxID: "TX2", CreatedAt: "2026-01-01T00:00:01Z"}))
	require.NoError(t, w.Close())

	recs := readFallback(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "TX1", recs[0].TxID)
	assert.Equal(t, "TX2", recs[1].TxID)
}

func TestFallbackRecordRoundTrip(t *testing.T) {
	num := int64(9)
	hash := "0909"
	rec := &models.EventRecord{
		EventName:   "QrTokenCreated",
		Payload:     `{"tokenSignature":"sig-1"}`,
		TxID:        "TX1",
		BlockNumber: &num,
		BlockHash:   &hash,
		CreatedAt:   time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC),
	}

	back := FallbackRecordFrom(rec).EventRecord()
	assert.Equal(t, rec.EventName, back.EventName)
	assert.JSONEq(t, rec.Payload, back.Payload)
	assert.Equal(t, rec.TxID, back.TxID)
	assert.Equal(t, *rec.BlockNumber, *back.BlockNumber)
	assert.Equal(t, *rec.BlockHash, *back.BlockHash)
	assert.True(t, rec.CreatedAt.Equal(back.CreatedAt))
}

func TestFallbackRecordQuotesNonJSONPayload(t *testing.T) {
	fr := FallbackRecordFrom(&models.EventRecord{TxID: "TX1", Payload: "not json"})
	assert.JSONEq(t, `"not json"`, string(fr.Payload))
}
