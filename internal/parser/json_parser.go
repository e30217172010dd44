package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// JSONParser implements Parser for a single JSON document listing deputies.
type JSONParser struct {
	writer DeputyWriter
	client *http.Client
}

func NewJSONParser(w DeputyWriter, timeout time.Duration) *JSONParser {
	return &JSONParser{writer: w, client: newHTTPClient(timeout)}
}

func (p *JSONParser) Method() string {
	return "json"
}

func (p *JSONParser) Parse(ctx context.Context, url, legislature string) (SyncResult, error) {
	result := SyncResult{RunID: uuid.NewString(), Method: p.Method(), Legislature: legislature, Files: 1}
	log.Printf("[%s] Starting json sync of %s for legislature %s", result.RunID, url, legislature)

	var buf bytes.Buffer
	if _, err := download(ctx, p.client, url, &buf); err != nil {
		return result, NewParseError("download", err)
	}

	var doc any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		return result, NewParseError("decode", fmt.Errorf("failed to decode JSON: %w", err))
	}

	batch := newBatchWriter(p.writer, legislature)
	err := batch.addDocument(ctx, doc)
	if err == nil {
		err = batch.flush(ctx)
	}
	result.Saved = batch.saved
	result.Skipped = batch.skipped
	if err != nil {
		return result, NewParseError("store", err)
	}

	log.Printf("[%s] Json sync done: %d saved, %d skipped", result.RunID, result.Saved, result.Skipped)
	return result, nil
}

func (p *JSONParser) Cleanup() error {
	return nil
}
