package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// Ingestor turns uploaded property documents into plain text.
type Ingestor struct {
	loader *file.FileLoader
}

// New wires the PDF and CSV parsers behind an extension dispatcher and file loader.
func New(ctx context.Context) (*Ingestor, error) {
	parsers := map[Kind]parser.Parser{
		KindPDF: PDFParser{},
		KindCSV: CSVParser{},
	}
	byExt := make(map[string]parser.Parser, len(parsers))
	for kind, p := range parsers {
		byExt[kind.Ext()] = p
	}
	ext, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers:        byExt,
		FallbackParser: unsupportedParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      ext,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Ingestor{loader: loader}, nil
}

// LoadFile extracts a stored upload from disk. Stored uploads always carry a
// lower-case extension, so the loader's extension lookup matches directly.
func (i *Ingestor) LoadFile(ctx context.Context, path string) (string, error) {
	if KindOf(path) == KindUnsupported {
		return "", ErrUnsupportedType
	}
	docs, err := i.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", err
	}
	return joinDocuments(docs), nil
}

func joinDocuments(docs []*schema.Document) string {
	if len(docs) == 1 {
		return docs[0].Content
	}
	var sb strings.Builder
	for _, doc := range docs {
		if doc != nil {
			sb.WriteString(doc.Content)
		}
	}
	return sb.String()
}

type unsupportedParser struct{}

func (unsupportedParser) Parse(context.Context, io.Reader, ...parser.Option) ([]*schema.Document, error) {
	return nil, ErrUnsupportedType
}
