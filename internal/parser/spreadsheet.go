package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SpreadsheetSource streams the first sheet of a workbook. Only the rows of
// the current chunk are held as Row values. Blank lines between data rows are
// yielded as empty rows; trailing blank lines are dropped.
type SpreadsheetSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	chunk   int
	total   int
	pending *Row
	done    bool

	line    int  // sheet lines consumed, header included
	header  int  // sheet line of the header
	emitted int  // Number of the last row returned
	held    *Row // filled row waiting behind a run of blank rows
}

// OpenSpreadsheet reads the header row of the first sheet and checks that a
// data row follows it. The workbook stays open until Close.
func OpenSpreadsheet(data []byte, chunkRows int) (*SpreadsheetSource, error) {
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %w", ErrParse, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, ErrEmptyOrHeaderOnly
	}
	if err := isoDateFormats(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: styles: %w", ErrParse, err)
	}
	sheet := sheets[0]
	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: read sheet %q: %w", ErrParse, sheet, err)
	}
	s := &SpreadsheetSource{
		file:  f,
		rows:  rows,
		chunk: chunkRows,
		total: dataRowsInRange(f, sheet),
	}

	header, err := s.readHeader()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.headers = header

	first, err := s.readRow()
	if err != nil {
		_ = s.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyOrHeaderOnly
		}
		return nil, err
	}
	s.pending = &first
	return s, nil
}

// readHeader returns the first non-empty row as normalized headers.
func (s *SpreadsheetSource) readHeader() ([]string, error) {
	for s.rows.Next() {
		s.line++
		cells, err := s.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: header row: %w", ErrParse, err)
		}
		headers := normalizeHeaders(cells)
		if strings.Join(headers, "") != "" {
			s.header = s.line
			return headers, nil
		}
	}
	if err := s.rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return nil, ErrEmptyOrHeaderOnly
}

// readRow returns the next data row or io.EOF. Blank lines are only yielded
// once a filled row follows them.
func (s *SpreadsheetSource) readRow() (Row, error) {
	if s.held != nil {
		if s.emitted+1 < s.held.Number {
			s.emitted++
			return blankRow(s.headers, s.emitted), nil
		}
		row := *s.held
		s.held = nil
		s.emitted = row.Number
		return row, nil
	}
	for s.rows.Next() {
		s.line++
		number := s.line - s.header
		cells, err := s.rows.Columns()
		if err != nil {
			return Row{}, fmt.Errorf("%w: row %d: %w", ErrParse, number, err)
		}
		row, filled := buildRow(s.headers, cells, number)
		if !filled {
			continue
		}
		s.held = &row
		return s.readRow()
	}
	if err := s.rows.Error(); err != nil {
		return Row{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return Row{}, io.EOF
}

// Next returns up to max rows, or the configured chunk size when max <= 0.
func (s *SpreadsheetSource) Next(max int) ([]Row, error) {
	if max <= 0 {
		max = s.chunk
	}
	if s.done && s.pending == nil {
		return nil, io.EOF
	}
	out := make([]Row, 0, max)
	if s.pending != nil {
		out = append(out, *s.pending)
		s.pending = nil
	}
	for len(out) < max && !s.done {
		row, err := s.readRow()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// Total is derived from the sheet's used range, so trailing blank lines
// inside it make it overshoot.
func (s *SpreadsheetSource) Total() int { return s.total }

func (s *SpreadsheetSource) Close() error {
	var errs []error
	if s.rows != nil {
		errs = append(errs, s.rows.Close())
		s.rows = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	return errors.Join(errs...)
}

// dataRowsInRange reads the used range ("A1:D1201") and returns the row count
// below the header, or -1 when the workbook does not record one.
func dataRowsInRange(f *excelize.File, sheet string) int {
	ref, err := f.GetSheetDimension(sheet)
	if err != nil || ref == "" {
		return -1
	}
	parts := strings.Split(ref, ":")
	_, first, err := excelize.CellNameToCoordinates(parts[0])
	if err != nil {
		return -1
	}
	last := first
	if len(parts) == 2 {
		if _, last, err = excelize.CellNameToCoordinates(parts[1]); err != nil {
			return -1
		}
	}
	if last-first < 1 {
		return -1
	}
	return last - first
}

// isoDateFormats points every cell format that shows a calendar date at an
// ISO layout, so date cells read as "2024-01-15" or "2024-01-15 10:30:00"
// whatever the workbook's display format. Time-only formats are left alone.
func isoDateFormats(f *excelize.File) error {
	dateOnly, err := numFmtOf(f, "yyyy-mm-dd")
	if err != nil {
		return err
	}
	dateTime, err := numFmtOf(f, "yyyy-mm-dd hh:mm:ss")
	if err != nil {
		return err
	}
	xfs := f.Styles.CellXfs.Xf
	for i := range xfs {
		if xfs[i].NumFmtID == nil {
			continue
		}
		style, err := f.GetStyle(i)
		if err != nil {
			return err
		}
		switch date, clock := dateFormat(style); {
		case date && clock:
			xfs[i].NumFmtID = &dateTime
		case date:
			xfs[i].NumFmtID = &dateOnly
		}
	}
	return nil
}

// numFmtOf registers code as a cell style and returns its number format id.
func numFmtOf(f *excelize.File, code string) (int, error) {
	id, err := f.NewStyle(&excelize.Style{CustomNumFmt: &code})
	if err != nil {
		return 0, err
	}
	if f.Styles == nil || f.Styles.CellXfs == nil || id >= len(f.Styles.CellXfs.Xf) || f.Styles.CellXfs.Xf[id].NumFmtID == nil {
		return 0, fmt.Errorf("style %d has no number format", id)
	}
	return *f.Styles.CellXfs.Xf[id].NumFmtID, nil
}

// dateFormat reports whether a cell format shows a date and whether it also
// shows a time of day.
func dateFormat(style *excelize.Style) (date, clock bool) {
	if style.CustomNumFmt != nil {
		return dateTokens(*style.CustomNumFmt)
	}
	switch id := style.NumFmt; {
	case id == 22:
		return true, true
	case 14 <= id && id <= 17, 27 <= id && id <= 31, id == 36, 50 <= id && id <= 58:
		return true, false
	}
	return false, false
}

// dateTokens scans the first section of a format code. Quoted text and
// escaped characters are skipped, as are bracketed modifiers other than
// elapsed time.
func dateTokens(code string) (date, clock bool) {
	code, _, _ = strings.Cut(code, ";")
	code = strings.ReplaceAll(strings.ToLower(code), "general", "")
	var month bool
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '"':
			if end := strings.IndexByte(code[i+1:], '"'); end >= 0 {
				i += end + 1
			} else {
				i = len(code)
			}
		case '[':
			end := strings.IndexByte(code[i:], ']')
			if end < 0 {
				i = len(code)
				continue
			}
			// elapsed time such as [h] or [mm]
			if strings.Trim(code[i+1:i+end], "hms") == "" && end > 1 {
				clock = true
			}
			i += end
		case '\\', '_', '*':
			i++
		case 'y', 'd':
			date = true
		case 'h', 's':
			clock = true
		case 'm':
			month = true
		}
	}
	// a lone "m" run is a month unless hours or seconds make it minutes
	if month && !clock {
		date = true
	}
	return date, clock
}

// EstimateSpreadsheetRecords guesses the data row count from the file size.
func EstimateSpreadsheetRecords(size int) int {
	return size / 100
}
