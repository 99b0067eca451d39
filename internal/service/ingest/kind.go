package ingest

import (
	"errors"
	"path/filepath"
	"strings"
)

// Kind is the document format chosen from an upload's extension.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindCSV         Kind = "csv"
	KindUnsupported Kind = "unsupported"
)

var (
	// ErrUnsupportedType is returned for files that are neither PDF nor CSV.
	ErrUnsupportedType = errors.New("unsupported file type, upload a .pdf or .csv file")
	// ErrEmptyDocument is returned when a CSV upload has no rows at all.
	ErrEmptyDocument = errors.New("document is empty")
)

// KindOf classifies a file name by its extension, ignoring case.
func KindOf(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".csv":
		return KindCSV
	default:
		return KindUnsupported
	}
}

// Ext returns the canonical lower-case extension for the kind.
func (k Kind) Ext() string {
	switch k {
	case KindPDF:
		return ".pdf"
	case KindCSV:
		return ".csv"
	}
	return ""
}
