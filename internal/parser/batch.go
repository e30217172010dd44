package parser

import (
	"context"

	"hemicycle/internal/models"
	"hemicycle/internal/normalize"
)

const writeBatchSize = 200

// Keys under which open-data exports nest their actor lists.
var containerKeys = []string{"export", "acteurs", "acteur", "deputes", "deputies", "items", "results"}

// batchWriter normalizes decoded documents and writes them in fixed-size
// batches. Entries without a deputy ID or names count as skipped.
type batchWriter struct {
	writer      DeputyWriter
	legislature string
	pending     []models.DeputyRecord
	saved       int
	skipped     int
}

func newBatchWriter(w DeputyWriter, legislature string) *batchWriter {
	return &batchWriter{writer: w, legislature: legislature}
}

func (b *batchWriter) addDocument(ctx context.Context, doc any) error {
	for _, raw := range deputyObjects(doc) {
		record := normalize.Deputy(raw)
		if record.ID == "" || !record.IsResolved() {
			b.skipped++
			continue
		}
		b.pending = append(b.pending, record)
		if len(b.pending) >= writeBatchSize {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batchWriter) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	n, err := b.writer.SaveDeputies(ctx, b.legislature, b.pending)
	if err != nil {
		return err
	}
	b.skipped += len(b.pending) - n
	b.saved += n
	b.pending = b.pending[:0]
	return nil
}

// deputyObjects walks lists and known container keys down to the objects
// that describe a single actor. Sibling keys of a container, such as the
// organes section of a full export, are ignored.
func deputyObjects(doc any) []models.RawRecord {
	switch v := doc.(type) {
	case []any:
		var out []models.RawRecord
		for _, item := range v {
			out = append(out, deputyObjects(item)...)
		}
		return out
	case map[string]any:
		for _, key := range containerKeys {
			if inner, ok := v[key]; ok {
				return deputyObjects(inner)
			}
		}
		return []models.RawRecord{v}
	default:
		return nil
	}
}
