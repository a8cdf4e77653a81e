// Package document owns ingested free-text documents: extraction of
// question/answer/analysis triples, paragraph-aware chunking, and the
// index items derived from both.
package document

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/logger"
	"github.com/analytical-agent/backend/pkg/utils"
)

// Kind is the input format of a document.
type Kind string

const (
	KindPlain    Kind = "plain"
	KindRichText Kind = "richText"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	previewLimit        = 500
)

// QAUnit is one extracted question/answer/analysis triple. Answers may
// be empty; consumers must tolerate that.
type QAUnit struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Analysis string `json:"analysis"`
}

// Metadata describes an ingested document.
type Metadata struct {
	SourceID      string    `json:"source_id"`
	Name          string    `json:"name"`
	Kind          Kind      `json:"kind"`
	NumCharacters int       `json:"num_characters"`
	NumChunks     int       `json:"num_chunks"`
	NumQAPairs    int       `json:"num_qa_pairs"`
	HasQuestions  bool      `json:"has_questions"`
	IngestedAt    time.Time `json:"ingested_at"`
}

// Document holds the text, chunks and QA units of one ingested source.
type Document struct {
	ID       string
	Metadata *Metadata
	Text     string
	Chunks   []string
	QAUnits  []QAUnit
}

// Store keeps documents in memory keyed by id.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]*Document
	order []string

	chunkSize    int
	chunkOverlap int
}

func NewStore() *Store {
	return &Store{
		docs:         make(map[string]*Document),
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
}

// Ingest extracts text according to kind, splits it into chunks,
// extracts QA units, and retains the result. Empty text is valid and
// produces zero chunks and zero QA units.
func (s *Store) Ingest(name, raw string, kind Kind) (string, *Metadata, error) {
	var text string
	switch kind {
	case KindPlain:
		text = raw
	case KindRichText:
		extracted, err := extractRichText(raw)
		if err != nil {
			return "", nil, apperr.Wrap(err, apperr.KindMalformedInput, "failed to parse rich text %q", name)
		}
		text = extracted
	default:
		return "", nil, apperr.New(apperr.KindUnsupportedFormat, "unsupported document kind %q", kind)
	}

	id := generateDocumentID(name)
	chunks := s.chunkText(text)
	qaUnits := ExtractQAUnits(text)

	doc := &Document{
		ID:      id,
		Text:    text,
		Chunks:  chunks,
		QAUnits: qaUnits,
		Metadata: &Metadata{
			SourceID:      id,
			Name:          name,
			Kind:          kind,
			NumCharacters: len(text),
			NumChunks:     len(chunks),
			NumQAPairs:    len(qaUnits),
			HasQuestions:  len(qaUnits) > 0,
			IngestedAt:    time.Now(),
		},
	}

	s.mu.Lock()
	s.docs[id] = doc
	s.order = append(s.order, id)
	s.mu.Unlock()

	logger.Info("Document ingested",
		zap.String("source_id", id),
		zap.Int("characters", len(text)),
		zap.Int("chunks", len(chunks)),
		zap.Int("qa_pairs", len(qaUnits)),
	)

	return id, doc.Metadata, nil
}

// Get returns the document for id.
func (s *Store) Get(id string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

// List returns document metadata in ingestion order.
func (s *Store) List() []*Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Metadata, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id].Metadata)
	}
	return out
}

// Len returns the number of loaded documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Remove forgets the document for id.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return
	}
	delete(s.docs, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// chunkText splits text into overlapping windows. Paragraphs are
// accumulated until the buffer would exceed the chunk size; the next
// buffer is seeded with the tail words of the closed chunk so adjacent
// chunks overlap. The final non-empty buffer is always emitted.
func (s *Store) chunkText(text string) []string {
	paragraphs := strings.Split(text, "\n")

	var chunks []string
	var current string

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(current)+len(para) > s.chunkSize && current != "" {
			chunks = append(chunks, current)

			words := strings.Fields(current)
			carry := s.chunkOverlap / 5
			if carry > len(words) {
				carry = len(words)
			}
			overlap := strings.Join(words[len(words)-carry:], " ")
			current = overlap + " " + para
		} else if current == "" {
			current = para
		} else {
			current += "\n" + para
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// EmbeddingText renders a QA unit as the text that gets embedded.
func (q QAUnit) EmbeddingText() string {
	text := fmt.Sprintf("Question: %s\nAnswer: %s", q.Question, q.Answer)
	if q.Analysis != "" {
		text += fmt.Sprintf("\nAnalysis: %s", q.Analysis)
	}
	return text
}

// IndexItems returns the embedding texts and index metadata for the
// document: one item per chunk followed by one per QA unit.
func (d *Document) IndexItems() ([]string, []vector.IndexUnit) {
	texts := make([]string, 0, len(d.Chunks)+len(d.QAUnits))
	units := make([]vector.IndexUnit, 0, len(d.Chunks)+len(d.QAUnits))

	for i, chunk := range d.Chunks {
		texts = append(texts, chunk)
		units = append(units, vector.IndexUnit{
			SourceID:   d.ID,
			Kind:       vector.UnitTextChunk,
			RowIndex:   -1,
			ChunkIndex: i,
			Preview:    truncate(chunk, previewLimit),
		})
	}

	for i, qa := range d.QAUnits {
		text := qa.EmbeddingText()
		texts = append(texts, text)
		units = append(units, vector.IndexUnit{
			SourceID:   d.ID,
			Kind:       vector.UnitQAPair,
			RowIndex:   -1,
			ChunkIndex: len(d.Chunks) + i,
			Preview:    truncate(text, previewLimit),
			Question:   qa.Question,
			Answer:     qa.Answer,
			Analysis:   qa.Analysis,
		})
	}

	return texts, units
}

// extractRichText pulls readable text out of an HTML document. Table
// rows are flattened into pipe-joined lines appended after the main
// text so tabular content stays searchable.
func extractRichText(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(_ int, sel *goquery.Selection) {
		sel.Remove()
	})

	var tableLines []string
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			if text := strings.TrimSpace(cell.Text()); text != "" {
				cells = append(cells, text)
			}
		})
		if len(cells) > 0 {
			tableLines = append(tableLines, strings.Join(cells, " | "))
		}
	})
	doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		sel.Remove()
	})

	var paragraphs []string
	doc.Find("p, h1, h2, h3, h4, h5, h6, li").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		if body := strings.TrimSpace(doc.Find("body").Text()); body != "" {
			paragraphs = append(paragraphs, body)
		}
	}

	text := strings.Join(paragraphs, "\n")
	if len(tableLines) > 0 {
		if text != "" {
			text += "\n\n"
		}
		text += "Tables:\n" + strings.Join(tableLines, "\n")
	}
	return text, nil
}

func generateDocumentID(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	stem = strings.ReplaceAll(stem, " ", "_")
	if stem == "" {
		stem = "document"
	}
	suffix := utils.ShortHash(fmt.Sprintf("%s_%s", name, time.Now().Format(time.RFC3339Nano)))
	return fmt.Sprintf("doc_%s_%s", stem, suffix)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
