package core

// csvfile.go reads an uploaded file into validated rows.
//
// The whole file is held in memory: classification needs every row before any
// Action can be assigned, so there is nothing to gain from streaming.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParsedFile is the result of reading an import file.
type ParsedFile struct {
	Header       []string
	Rows         []ImportRow
	SkippedBlank int // all-blank records that were dropped
}

// ParseFile decodes, parses and validates an import file.
//
// A file that cannot be read as CSV, has no header, or lacks a required column
// returns a *StructuralError. A file with a valid header but no data rows
// returns ErrEmptyFile. Row-level problems are reported on the rows.
func ParseFile(data []byte) (*ParsedFile, error) {
	data = sanitizeUTF8(bytes.TrimPrefix(data, utf8BOM))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	records, err := parseCSV(data)
	if err != nil {
		return nil, &StructuralError{Reason: "file could not be parsed", Err: err}
	}

	headerAt := -1
	for i, rec := range records {
		if !isEmptyRow(rec.fields) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, ErrEmptyFile
	}

	header := records[headerAt]
	idx, err := ValidateHeaders(header.fields)
	if err != nil {
		return nil, err
	}

	validator := NewRowValidator(idx)
	parsed := &ParsedFile{Header: header.fields}
	for _, rec := range records[headerAt+1:] {
		if isEmptyRow(rec.fields) {
			parsed.SkippedBlank++
			continue
		}
		parsed.Rows = append(parsed.Rows, validator.ValidateRow(rec.line-header.line, rec.fields))
	}

	if len(parsed.Rows) == 0 {
		return nil, ErrEmptyFile
	}
	return parsed, nil
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

// csvRecord is one CSV record and the file line it starts on.
type csvRecord struct {
	fields []string
	line   int
}

// parseCSV reads every record. encoding/csv drops empty lines, so each record
// keeps its starting line and row numbers stay aligned with the file.
func parseCSV(data []byte) ([]csvRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records []csvRecord
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		records = append(records, csvRecord{fields: fields, line: line})
	}
}
