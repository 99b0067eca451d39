package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

// pdfHeaderWindow is how far into a file readers look for the %PDF- header.
const pdfHeaderWindow = 1024

var pdfHeader = []byte("%PDF-")

// PDFHeaderOffset returns the position of the %PDF- header in the leading bytes, or -1.
func PDFHeaderOffset(data []byte) int {
	if len(data) > pdfHeaderWindow {
		data = data[:pdfHeaderWindow]
	}
	return bytes.Index(data, pdfHeader)
}

// PDFParser extracts the plain text of every page, in page order.
type PDFParser struct{}

var _ parser.Parser = PDFParser{}

func (PDFParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	common := parser.GetCommonOptions(&parser.Options{}, opts...)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	// xref offsets count from the header, not from bytes prepended in transit
	if off := PDFHeaderOffset(data); off > 0 {
		data = data[off:]
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		sb.WriteString(text)
	}

	return []*schema.Document{{
		ID:       common.URI,
		Content:  sb.String(),
		MetaData: documentMeta(common, KindPDF, map[string]any{"pages": pages}),
	}}, nil
}

func documentMeta(opts *parser.Options, kind Kind, extra map[string]any) map[string]any {
	meta := map[string]any{"kind": string(kind)}
	for k, v := range opts.ExtraMeta {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}
