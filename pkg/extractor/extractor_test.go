package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docingest/docingest/pkg/logger"
)

func TestTerminalClassification(t *testing.T) {
	terminal := []Code{CodeInvalidFile, CodeCorrupted, CodePasswordProtected, CodeNoText}
	for _, code := range terminal {
		err := NewExtractionError(code, "boom")
		assert.True(t, err.Terminal(), "%s must be terminal", code)
	}
	assert.False(t, NewExtractionError(CodeParseError, "boom").Terminal(),
		"parse errors stay retryable")
}

func TestExtractRejectsNonPDF(t *testing.T) {
	ex := NewPDFExtractor(logger.NewTestLogger())

	for name, data := range map[string][]byte{
		"empty":      nil,
		"plain text": []byte("hello world"),
		"html":       []byte("<html><body>nope</body></html>"),
	} {
		_, err := ex.Extract(context.Background(), data)
		require.Error(t, err, name)

		var xerr *ExtractionError
		require.ErrorAs(t, err, &xerr, name)
		assert.Equal(t, CodeInvalidFile, xerr.Code, name)
	}
}

func TestExtractGarbageAfterMagic(t *testing.T) {
	ex := NewPDFExtractor(logger.NewTestLogger())

	data := append([]byte("%PDF-1.7\n"), []byte("this is not a real pdf body")...)
	_, err := ex.Extract(context.Background(), data)
	require.Error(t, err)

	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr, "broken bodies must map to a typed failure")
}

func TestClassifyOpenError(t *testing.T) {
	assert.Equal(t, CodePasswordProtected, classifyOpenError(errFake("file is encrypted")).Code)
	assert.Equal(t, CodePasswordProtected, classifyOpenError(errFake("invalid password")).Code)
	assert.Equal(t, CodeCorrupted, classifyOpenError(errFake("malformed PDF: xref not found")).Code)
}

func TestParsePDFDate(t *testing.T) {
	got, ok := parsePDFDate("D:20240115093000+01'00'")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC), got)

	_, ok = parsePDFDate("garbage")
	assert.False(t, ok)
}

type errFake string

func (e errFake) Error() string { return string(e) }
