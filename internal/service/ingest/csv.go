package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVParser re-serializes a table as comma separated text without any row index.
// The header row is kept, blank lines are dropped and ragged rows are rejected.
type CSVParser struct{}

var _ parser.Parser = CSVParser{}

func (CSVParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	common := parser.GetCommonOptions(&parser.Options{}, opts...)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	in := csv.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	out := csv.NewWriter(&buf)
	rows := 0
	for {
		record, err := in.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if err := out.Write(record); err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
		rows++
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	if rows == 0 {
		return nil, ErrEmptyDocument
	}

	return []*schema.Document{{
		ID:       common.URI,
		Content:  buf.String(),
		MetaData: documentMeta(common, KindCSV, map[string]any{"rows": rows - 1}),
	}}, nil
}
