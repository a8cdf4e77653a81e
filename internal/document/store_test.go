package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/apperr"
)

func TestIngestPlainText(t *testing.T) {
	store := NewStore()

	id, meta, err := store.Ingest("notes.txt", "first paragraph\nsecond paragraph", KindPlain)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "doc_notes_"), "got %q", id)
	assert.Equal(t, 1, meta.NumChunks)
	assert.Equal(t, 0, meta.NumQAPairs)
	assert.False(t, meta.HasQuestions)
}

func TestIngestEmptyText(t *testing.T) {
	store := NewStore()

	_, meta, err := store.Ingest("empty.txt", "", KindPlain)
	require.NoError(t, err)
	assert.Equal(t, 0, meta.NumChunks)
	assert.Equal(t, 0, meta.NumQAPairs)
}

func TestIngestUnknownKind(t *testing.T) {
	store := NewStore()

	_, _, err := store.Ingest("weird.bin", "data", Kind("binary"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnsupportedFormat))
}

func TestChunkingCoversAllTextWithOverlap(t *testing.T) {
	store := NewStore()

	// Paragraphs sized so several chunks are produced.
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(strings.Repeat("word ", 60))
		sb.WriteString("\n")
	}
	text := sb.String()

	id, meta, err := store.Ingest("long.txt", text, KindPlain)
	require.NoError(t, err)
	require.Greater(t, meta.NumChunks, 1)

	doc, ok := store.Get(id)
	require.True(t, ok)

	// Adjacent chunks share the seeded tail words.
	for i := 1; i < len(doc.Chunks); i++ {
		prevWords := strings.Fields(doc.Chunks[i-1])
		carry := defaultChunkOverlap / 5
		if carry > len(prevWords) {
			carry = len(prevWords)
		}
		tail := strings.Join(prevWords[len(prevWords)-carry:], " ")
		assert.True(t, strings.HasPrefix(doc.Chunks[i], tail),
			"chunk %d does not start with the tail of chunk %d", i, i-1)
	}
}

func TestChunkingDropsBlankLines(t *testing.T) {
	store := NewStore()

	id, _, err := store.Ingest("gaps.txt", "one\n\n\ntwo\n", KindPlain)
	require.NoError(t, err)
	doc, _ := store.Get(id)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, "one\ntwo", doc.Chunks[0])
}

func TestExtractQAUnits(t *testing.T) {
	text := `Q1: What is the revenue?
Ans: Revenue grew 10% year over year.
ANALYSIS: Growth was driven by new accounts.
Q2: What about churn?
Ans: Churn held steady.
Q3: Open question with no answer yet
`

	units := ExtractQAUnits(text)
	require.Len(t, units, 3)

	assert.Equal(t, "What is the revenue?", units[0].Question)
	assert.Equal(t, "Revenue grew 10% year over year.", units[0].Answer)
	assert.Equal(t, "Growth was driven by new accounts.", units[0].Analysis)

	assert.Equal(t, "What about churn?", units[1].Question)
	assert.Equal(t, "Churn held steady.", units[1].Answer)
	assert.Empty(t, units[1].Analysis)

	assert.Equal(t, "Open question with no answer yet", units[2].Question)
	assert.Empty(t, units[2].Answer)
}

func TestExtractQAUnitsEmptyAnswerKept(t *testing.T) {
	units := ExtractQAUnits("Q1: Is the answer blank?\nAns:\nQ2: Next question\nAns: yes")
	require.Len(t, units, 2)
	assert.Equal(t, "Is the answer blank?", units[0].Question)
	assert.Empty(t, units[0].Answer)
	assert.Equal(t, "yes", units[1].Answer)
}

func TestExtractQAUnitsNoMarkers(t *testing.T) {
	assert.Nil(t, ExtractQAUnits("plain prose with no question convention"))
}

func TestQAEmbeddingText(t *testing.T) {
	qa := QAUnit{Question: "Why?", Answer: "Because."}
	assert.Equal(t, "Question: Why?\nAnswer: Because.", qa.EmbeddingText())

	qa.Analysis = "Deeper reasons."
	assert.Equal(t, "Question: Why?\nAnswer: Because.\nAnalysis: Deeper reasons.", qa.EmbeddingText())
}

func TestIngestRichTextFlattensTables(t *testing.T) {
	store := NewStore()

	html := `<html><body>
		<nav>skip this</nav>
		<h1>Report</h1>
		<p>Quarterly summary.</p>
		<table>
			<tr><th>name</th><th>price</th></tr>
			<tr><td>alpha</td><td>10.5</td></tr>
		</table>
		<script>var ignored = 1;</script>
	</body></html>`

	id, _, err := store.Ingest("report.html", html, KindRichText)
	require.NoError(t, err)

	doc, _ := store.Get(id)
	assert.Contains(t, doc.Text, "Report")
	assert.Contains(t, doc.Text, "Quarterly summary.")
	assert.Contains(t, doc.Text, "name | price")
	assert.Contains(t, doc.Text, "alpha | 10.5")
	assert.NotContains(t, doc.Text, "skip this")
	assert.NotContains(t, doc.Text, "ignored")
}

func TestIndexItemsChunksThenQA(t *testing.T) {
	store := NewStore()

	id, _, err := store.Ingest("qa.txt", "Intro paragraph.\nQ1: A question?\nAns: An answer.", KindPlain)
	require.NoError(t, err)
	doc, _ := store.Get(id)

	texts, units := doc.IndexItems()
	require.Len(t, units, len(doc.Chunks)+len(doc.QAUnits))
	require.Len(t, texts, len(units))

	for i := range doc.Chunks {
		assert.Equal(t, vector.UnitTextChunk, units[i].Kind)
		assert.Equal(t, i, units[i].ChunkIndex)
	}
	for i := range doc.QAUnits {
		u := units[len(doc.Chunks)+i]
		assert.Equal(t, vector.UnitQAPair, u.Kind)
		assert.Equal(t, len(doc.Chunks)+i, u.ChunkIndex)
		assert.NotEmpty(t, u.Question)
	}
}
