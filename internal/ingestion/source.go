package ingestion

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

const defaultMaxLineBytes = 64 << 10

// rawRow is one unparsed input row.
type rawRow struct {
	number int
	text   string
	fields []string
	// oversized rows were discarded by the reader and only carry a prefix of text.
	oversized bool
}

// rowSource yields rows in input order and returns io.EOF once exhausted.
type rowSource interface {
	Next() (rawRow, error)
	Close() error
}

func openRowSource(fileName string, data io.Reader, maxLineBytes int) (rowSource, error) {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".xlsx":
		return newXLSXSource(data)
	case ".xls", ".xlsm", ".ods":
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	default:
		return newTextSource(data, maxLineBytes), nil
	}
}

type textSource struct {
	reader       *bufio.Reader
	maxLineBytes int
	lineNumber   int
	started      bool
	buf          []byte
}

func newTextSource(data io.Reader, maxLineBytes int) *textSource {
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	return &textSource{
		reader:       bufio.NewReaderSize(data, 32<<10),
		maxLineBytes: maxLineBytes,
	}
}

func (s *textSource) Next() (rawRow, error) {
	if !s.started {
		s.started = true
		if prefix, err := s.reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
			_, _ = s.reader.Discard(len(byteOrderMark))
		}
	}

	s.buf = s.buf[:0]
	oversized := false
	sawData := false

	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(chunk) > 0 {
			sawData = true
		}
		if !oversized {
			if len(s.buf)+len(chunk) > s.maxLineBytes+2 { // room for "\r\n"
				oversized = true
				keep := s.maxLineBytes - len(s.buf)
				if keep > 0 {
					s.buf = append(s.buf, chunk[:min(keep, len(chunk))]...)
				}
			} else {
				s.buf = append(s.buf, chunk...)
			}
		}

		switch {
		case err == nil:
			return s.emit(oversized), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !sawData {
				return rawRow{}, io.EOF
			}
			return s.emit(oversized), nil
		default:
			return rawRow{}, fmt.Errorf("failed to read line %d: %w", s.lineNumber+1, err)
		}
	}
}

func (s *textSource) emit(oversized bool) rawRow {
	s.lineNumber++
	line := strings.TrimSuffix(string(s.buf), "\n")
	line = strings.TrimSuffix(line, "\r")
	if len(line) > s.maxLineBytes {
		oversized = true
		line = line[:s.maxLineBytes]
	}
	return rawRow{number: s.lineNumber, text: line, oversized: oversized}
}

func (s *textSource) Close() error { return nil }

type xlsxSource struct {
	file       *excelize.File
	rows       *excelize.Rows
	lineNumber int
}

// newXLSXSource streams the first sheet. The zip container still has to be opened in full.
func newXLSXSource(data io.Reader) (*xlsxSource, error) {
	f, err := excelize.OpenReader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	return &xlsxSource{file: f, rows: rows}, nil
}

func (s *xlsxSource) Next() (rawRow, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return rawRow{}, fmt.Errorf("failed to read xlsx row %d: %w", s.lineNumber+1, err)
		}
		return rawRow{}, io.EOF
	}

	s.lineNumber++
	cols, err := s.rows.Columns()
	if err != nil {
		return rawRow{}, fmt.Errorf("failed to read xlsx row %d: %w", s.lineNumber, err)
	}

	return rawRow{
		number: s.lineNumber,
		text:   strings.Join(cols, fieldDelimiter),
		fields: cols,
	}, nil
}

func (s *xlsxSource) Close() error {
	rowsErr := s.rows.Close()
	fileErr := s.file.Close()
	return errors.Join(rowsErr, fileErr)
}
