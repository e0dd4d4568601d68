package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// runDeduplicator drops documents already emitted under the same id during
// one run. Distinct files with identical text are all kept; they are only
// counted, since a placeholder like "TBD" can appear in unrelated files.
type runDeduplicator struct {
	ids     map[string]struct{}
	hashes  map[string]struct{}
	repeats int
}

func newRunDeduplicator() *runDeduplicator {
	return &runDeduplicator{
		ids:    make(map[string]struct{}),
		hashes: make(map[string]struct{}),
	}
}

// Filter returns the documents of batch not seen before and marks them seen.
func (d *runDeduplicator) Filter(batch []models.Document) []models.Document {
	unique := make([]models.Document, 0, len(batch))
	for _, doc := range batch {
		if _, ok := d.ids[doc.ID]; ok {
			continue
		}
		d.ids[doc.ID] = struct{}{}
		if hash := ContentHash(doc); hash != "" {
			if _, ok := d.hashes[hash]; ok {
				d.repeats++
			}
			d.hashes[hash] = struct{}{}
		}
		unique = append(unique, doc)
	}
	return unique
}

// ContentRepeats reports how many kept documents had text identical to an
// earlier document of the run.
func (d *runDeduplicator) ContentRepeats() int {
	return d.repeats
}

// ContentHash fingerprints the normalized section text of doc. Documents
// without text hash to "".
func ContentHash(doc models.Document) string {
	var b strings.Builder
	for _, s := range doc.Sections {
		b.WriteString(normalizeText(s.Text))
		b.WriteByte('\n')
	}
	normalized := strings.TrimSpace(b.String())
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
