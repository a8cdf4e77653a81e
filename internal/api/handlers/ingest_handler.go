package handlers

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/document"
	"github.com/analytical-agent/backend/internal/ingestion"
	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/logger"
	"github.com/analytical-agent/backend/pkg/utils"
)

type IngestHandler struct {
	processor *ingestion.Processor
}

func NewIngestHandler(processor *ingestion.Processor) *IngestHandler {
	return &IngestHandler{
		processor: processor,
	}
}

// UploadFiles ingests one or more files from a multipart form. Each
// file is processed independently; one bad file never blocks the rest.
// The response reports per-file success or a kinded error.
func (h *IngestHandler) UploadFiles(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		logger.Error("Failed to parse multipart form", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid multipart form",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one file is required",
		})
	}

	results := make([]fiber.Map, 0, len(files))
	for _, fh := range files {
		result := h.ingestOne(c, fh.Filename, func() ([]byte, error) {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return io.ReadAll(f)
		})
		results = append(results, result)
	}

	return c.JSON(fiber.Map{
		"results": results,
	})
}

func (h *IngestHandler) ingestOne(c *fiber.Ctx, filename string, read func() ([]byte, error)) fiber.Map {
	raw, err := read()
	if err != nil {
		logger.Error("Failed to read uploaded file",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return fiber.Map{
			"filename":  filename,
			"errorKind": string(apperr.KindExecution),
			"details":   "failed to read uploaded file",
		}
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return h.ingestTable(c, filename, raw)
	case ".txt", ".md":
		return h.ingestDocument(c, filename, string(raw), document.KindPlain)
	case ".html", ".htm":
		return h.ingestDocument(c, filename, string(raw), document.KindRichText)
	default:
		return fiber.Map{
			"filename":  filename,
			"errorKind": string(apperr.KindUnsupportedFormat),
			"details":   "unsupported file extension, expected .csv, .txt, .md, .html",
		}
	}
}

func (h *IngestHandler) ingestTable(c *fiber.Ctx, filename string, raw []byte) fiber.Map {
	reader := csv.NewReader(strings.NewReader(string(raw)))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return fiber.Map{
			"filename":  filename,
			"errorKind": string(apperr.KindMalformedInput),
			"details":   "file is not parseable CSV",
		}
	}

	records = utils.NormalizeRecords(records)

	id, schema, err := h.processor.IngestTable(c.Context(), filename, records)
	if err != nil {
		logger.Error("Table ingestion failed",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return fiber.Map{
			"filename":  filename,
			"errorKind": string(apperr.KindOf(err)),
			"details":   apperr.Detail(err),
		}
	}

	return fiber.Map{
		"filename":  filename,
		"source_id": id,
		"schema":    schema,
	}
}

func (h *IngestHandler) ingestDocument(c *fiber.Ctx, filename, text string, kind document.Kind) fiber.Map {
	id, meta, err := h.processor.IngestDocument(c.Context(), filename, text, kind)
	if err != nil {
		logger.Error("Document ingestion failed",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return fiber.Map{
			"filename":  filename,
			"errorKind": string(apperr.KindOf(err)),
			"details":   apperr.Detail(err),
		}
	}

	return fiber.Map{
		"filename":  filename,
		"source_id": id,
		"metadata":  meta,
	}
}
