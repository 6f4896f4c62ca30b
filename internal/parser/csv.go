package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a whole CSV file with a header row. Empty lines are skipped,
// records with only empty fields are kept, and the first malformed record
// aborts the parse. Cell text is made valid UTF-8 without NUL bytes.
func ParseCSV(data []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyOrHeaderOnly
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	headers := normalizeHeaders(header)

	var rows []Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		row, _ := buildRow(headers, record, len(rows)+1)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyOrHeaderOnly
	}
	return rows, nil
}

// CountCSVRecords estimates data rows from line breaks, minus the header.
func CountCSVRecords(data []byte) int {
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return 0
	}
	return bytes.Count(data, []byte{'\n'})
}
