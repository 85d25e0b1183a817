package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/docingest/docingest/pkg/logger"
)

var pdfMagic = []byte("%PDF-")

// PDFExtractor extracts plain text from PDF bytes, pages in parallel up to
// maxPageWorkers at a time.
type PDFExtractor struct {
	logger         logger.Logger
	maxPageWorkers int
}

func NewPDFExtractor(log logger.Logger) *PDFExtractor {
	return &PDFExtractor{logger: log, maxPageWorkers: 4}
}

func (p *PDFExtractor) Extract(ctx context.Context, data []byte) (result *Result, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = NewExtractionError(CodeParseError, "pdf parser panic: %v", r)
		}
	}()

	if len(data) == 0 || !bytes.HasPrefix(data, pdfMagic) {
		return nil, NewExtractionError(CodeInvalidFile, "not a PDF file")
	}

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, classifyOpenError(err)
	}

	numPages := pdfReader.NumPage()
	texts := make([]string, numPages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxPageWorkers)
	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}
			text, err := safePlainText(page)
			if err != nil {
				return NewExtractionError(CodeParseError, "extract text from page %d: %v", pageNum, err)
			}
			texts[pageNum-1] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fullText := strings.TrimSpace(strings.Join(texts, "\n\n"))
	if fullText == "" {
		return nil, NewExtractionError(CodeNoText,
			"PDF contains no extractable text (might be scanned images)")
	}

	meta := Metadata{FileSize: int64(len(data))}
	readInfo(pdfReader, &meta)

	return &Result{
		Text:      fullText,
		PageCount: numPages,
		Metadata:  meta,
	}, nil
}

func safePlainText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

func classifyOpenError(err error) *ExtractionError {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "encrypted") || strings.Contains(msg, "password") {
		return NewExtractionError(CodePasswordProtected, "PDF is password protected")
	}
	return NewExtractionError(CodeCorrupted, "invalid or corrupted PDF file: %v", err)
}

func readInfo(r *pdf.Reader, meta *Metadata) {
	trailer := r.Trailer()
	if trailer.IsNull() {
		return
	}
	info := trailer.Key("Info")
	if info.IsNull() {
		return
	}
	if title := info.Key("Title"); !title.IsNull() {
		meta.Title = title.Text()
	}
	if author := info.Key("Author"); !author.IsNull() {
		meta.Author = author.Text()
	}
	if created := info.Key("CreationDate"); !created.IsNull() {
		if t, ok := parsePDFDate(created.Text()); ok {
			meta.CreatedAt = t
		}
	}
}

// parsePDFDate reads the leading date portion of a PDF date string
// (D:YYYYMMDDHHMMSS...), ignoring the timezone suffix.
func parsePDFDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(s, "D:")
	if len(s) > 14 {
		s = s[:14]
	}
	for _, layout := range []string{"20060102150405", "200601021504", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
