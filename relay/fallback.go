package relay

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ShanRaboy11/unitap/repository/models"
)

// FallbackRecord is one line of the fallback file: UTF-8, one JSON object
// per line, created_at in ISO-8601 with explicit UTC offset.
type FallbackRecord struct {
	EventName   string          `json:"event_name"`
	Payload     json.RawMessage `json:"payload"`
	TxID        string          `json:"tx_id"`
	BlockNumber *int64          `json:"block_number"`
	BlockHash   *string         `json:"block_hash"`
	CreatedAt   string          `json:"created_at"`
}

// FallbackRecordFrom converts a store row into its fallback-file form.
func FallbackRecordFrom(rec *models.EventRecord) *FallbackRecord {
	payload := json.RawMessage(rec.Payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(rec.Payload)
		payload = quoted
	}
	return &FallbackRecord{
		EventName:   rec.EventName,
		Payload:     payload,
		TxID:        rec.TxID,
		BlockNumber: rec.BlockNumber,
		BlockHash:   rec.BlockHash,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// EventRecord converts a fallback line back into a store row. An absent or
// unparsable created_at falls back to now so a replayed row is never
// rejected over a cosmetic timestamp.
func (fr *FallbackRecord) EventRecord() *models.EventRecord {
	createdAt, err := time.Parse(time.RFC3339, fr.CreatedAt)
	if err != nil {
		createdAt = time.Now().UTC()
	}
	return &models.EventRecord{
		EventName:   fr.EventName,
		Payload:     string(fr.Payload),
		TxID:        fr.TxID,
		BlockNumber: fr.BlockNumber,
		BlockHash:   fr.BlockHash,
		CreatedAt:   createdAt,
	}
}

// FallbackWriter appends line-delimited records to a local file. Each record
// goes out in a single Write call so concurrent appends never interleave
// partial lines.
type FallbackWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func NewFallbackWriter(path string) *FallbackWriter {
	return &FallbackWriter{path: path}
}

func (w *FallbackWriter) Append(rec *FallbackRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w.file = f
	}

	_, err = w.file.Write(line)
	return err
}

func (w *FallbackWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
