// Package parser turns raw CSV or spreadsheet bytes into an ordered stream of
// loosely typed rows keyed by normalized header names.
package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
)

var (
	ErrParse             = errors.New("parse error")
	ErrEmptyOrHeaderOnly = errors.New("file is empty or contains only a header row")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// DefaultChunkRows is the spreadsheet read-ahead size when Next is called
// without a limit.
const DefaultChunkRows = 500

// Row is one data row. Number is the 1-based position below the header, so
// blank rows inside the data keep their slot and fail validation downstream.
type Row struct {
	Number int
	Fields map[string]string
}

// Get returns the trimmed value for a normalized header key.
func (r Row) Get(key string) string {
	return strings.TrimSpace(r.Fields[key])
}

// Source yields rows in file order. Next returns io.EOF once exhausted.
type Source interface {
	Next(max int) ([]Row, error)
	// Total is the number of data rows when known up front, -1 otherwise.
	Total() int
	Close() error
}

// Open picks the parser for fileType. The first header row and at least one
// data row must be present.
func Open(data []byte, fileType model.FileType, chunkRows int) (Source, error) {
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}
	switch fileType {
	case model.FileTypeCSV:
		rows, err := ParseCSV(data)
		if err != nil {
			return nil, err
		}
		return NewSliceSource(rows), nil
	case model.FileTypeSpreadsheet:
		return OpenSpreadsheet(data, chunkRows)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType)
	}
}

// NormalizeHeader lower-cases and trims a header cell.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func normalizeHeaders(cells []string) []string {
	headers := make([]string, len(cells))
	for i, c := range cells {
		headers[i] = NormalizeHeader(sanitizeCell(c))
	}
	return headers
}

// sanitizeCell replaces invalid UTF-8 with U+FFFD and drops NUL bytes.
func sanitizeCell(v string) string {
	v = strings.ToValidUTF8(v, "\uFFFD")
	return strings.ReplaceAll(v, "\x00", "")
}

// buildRow maps cells onto headers. filled is false when every mapped cell is
// blank.
func buildRow(headers, cells []string, number int) (row Row, filled bool) {
	fields := make(map[string]string, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		var v string
		if i < len(cells) {
			v = sanitizeCell(cells[i])
		}
		if strings.TrimSpace(v) != "" {
			filled = true
		}
		fields[h] = v
	}
	return Row{Number: number, Fields: fields}, filled
}

// blankRow is the row for a sheet line with no cells at all.
func blankRow(headers []string, number int) Row {
	row, _ := buildRow(headers, nil, number)
	return row
}

// SliceSource serves rows that are already in memory.
type SliceSource struct {
	rows []Row
	pos  int
}

func NewSliceSource(rows []Row) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Next(max int) ([]Row, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	if max <= 0 {
		max = len(s.rows)
	}
	end := min(s.pos+max, len(s.rows))
	out := s.rows[s.pos:end]
	s.pos = end
	return out, nil
}

func (s *SliceSource) Total() int { return len(s.rows) }

func (s *SliceSource) Close() error { return nil }

// ReadAll drains src in chunks of size chunk.
func ReadAll(src Source, chunk int) ([]Row, error) {
	var out []Row
	for {
		rows, err := src.Next(chunk)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rows...)
	}
}
