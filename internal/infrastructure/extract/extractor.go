package extract

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
	"github.com/entiendetuderecho/analysis-service/internal/core/ports"
)

const mimePDF = "application/pdf"

// Extractor routes uploads to a local PDF text reader when the document
// already carries a text layer and to the OCR service for everything else.
type Extractor struct {
	ocr    ports.TextExtractor
	logger *slog.Logger
}

func New(ocr ports.TextExtractor, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ocr: ocr, logger: logger}
}

func (e *Extractor) Extract(ctx context.Context, upload domain.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if isPDF(upload) {
		text, err := extractPDF(upload.Data)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		// Scanned PDFs carry no text layer; fall back to OCR.
		e.logger.Debug("pdf_text_layer_unavailable", "filename", upload.Filename, "error", err)
	}
	return e.ocr.Extract(ctx, upload)
}

func isPDF(upload domain.Upload) bool {
	mime := strings.ToLower(strings.TrimSpace(strings.Split(upload.MimeType, ";")[0]))
	if mime == mimePDF {
		return true
	}
	return strings.ToLower(filepath.Ext(upload.Filename)) == ".pdf" && bytes.HasPrefix(upload.Data, []byte("%PDF"))
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
