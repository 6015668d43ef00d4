// Package ingest reads exported post rows from CSV or JSON into raw records
// for the normalizer.
package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"postpulse/internal/model"
)

// ReadCSV reads a header row followed by data rows. Header names are trimmed
// and lowercased; every value is kept as a string.
func ReadCSV(r io.Reader) ([]model.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	var out []model.RawRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		rec := make(model.RawRecord, len(header))
		for i, h := range header {
			if i < len(row) && h != "" {
				rec[h] = row[i]
			}
		}
		out = append(out, rec)
	}
}

// ReadJSON accepts either a JSON array of objects or one object per line.
// Numbers are kept as json.Number so ids and counters keep their digits.
func ReadJSON(r io.Reader) ([]model.RawRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(br)
	dec.UseNumber()
	var out []model.RawRecord
	if first == '[' {
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return out, nil
	}
	for {
		var rec model.RawRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

// peekNonSpace skips whitespace and a UTF-8 byte order mark.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF:
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}

// Read picks the reader by the extension of name: .json, .ndjson and .jsonl
// are JSON, anything else is CSV.
func Read(r io.Reader, name string) ([]model.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".ndjson", ".jsonl":
		return ReadJSON(r)
	default:
		return ReadCSV(r)
	}
}

// ReadFile reads path with Read.
func ReadFile(path string) ([]model.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, path)
}
