package parser

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ZIPParser implements Parser for the open-data archives that ship one JSON
// file per actor.
type ZIPParser struct {
	tempDir string
	writer  DeputyWriter
	client  *http.Client
}

// NewZIPParser creates a new ZIP parser instance
func NewZIPParser(w DeputyWriter, timeout time.Duration) (*ZIPParser, error) {
	tempDir, err := os.MkdirTemp("", "deputies_sync_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &ZIPParser{
		tempDir: tempDir,
		writer:  w,
		client:  newHTTPClient(timeout),
	}, nil
}

// Method returns the parser type
func (p *ZIPParser) Method() string {
	return "zip"
}

// Parse implements the Parser interface
func (p *ZIPParser) Parse(ctx context.Context, url, legislature string) (SyncResult, error) {
	result := SyncResult{RunID: uuid.NewString(), Method: p.Method(), Legislature: legislature}
	log.Printf("[%s] Starting zip sync of %s for legislature %s", result.RunID, url, legislature)

	zipPath, err := p.downloadZIP(ctx, result.RunID, url)
	if err != nil {
		log.Printf("[%s] Error downloading ZIP: %v", result.RunID, err)
		return result, NewParseError("download", err)
	}
	defer os.Remove(zipPath)

	if err := p.processZIPFile(ctx, zipPath, &result); err != nil {
		log.Printf("[%s] Error processing ZIP: %v", result.RunID, err)
		return result, NewParseError("process", err)
	}

	log.Printf("[%s] Zip sync done: %d files, %d saved, %d skipped",
		result.RunID, result.Files, result.Saved, result.Skipped)
	return result, nil
}

// downloadZIP downloads a ZIP file into the parser's temp directory
func (p *ZIPParser) downloadZIP(ctx context.Context, runID, url string) (string, error) {
	zipPath := filepath.Join(p.tempDir, runID+".zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	written, err := download(ctx, p.client, url, f)
	if err != nil {
		os.Remove(zipPath)
		return "", err
	}
	log.Printf("[%s] Wrote %d bytes to %s", runID, written, zipPath)
	return zipPath, nil
}

// processZIPFile decodes every JSON entry of the archive and writes the
// deputies it finds
func (p *ZIPParser) processZIPFile(ctx context.Context, zipPath string, result *SyncResult) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open ZIP: %w", err)
	}
	defer r.Close()

	log.Printf("[%s] Found %d files in ZIP archive", result.RunID, len(r.File))

	batch := newBatchWriter(p.writer, result.Legislature)
	// rows flushed before a failure are reported too
	defer func() {
		result.Saved += batch.saved
		result.Skipped += batch.skipped
	}()
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".json") {
			continue
		}
		result.Files++

		doc, err := readZIPEntry(f)
		if err != nil {
			log.Printf("[%s] Warning: skipping %s: %v", result.RunID, f.Name, err)
			result.Skipped++
			continue
		}
		if err := batch.addDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to store deputies from %s: %w", f.Name, err)
		}
	}

	if err := batch.flush(ctx); err != nil {
		return fmt.Errorf("failed to store deputies: %w", err)
	}
	return nil
}

func readZIPEntry(f *zip.File) (any, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file in ZIP: %w", err)
	}
	defer rc.Close()

	var doc any
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return doc, nil
}

// Cleanup removes temporary files
func (p *ZIPParser) Cleanup() error {
	return os.RemoveAll(p.tempDir)
}
