package feeder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// DataSource produces the rows a Feeder hands out.
type DataSource interface {
	Rows() ([]Row, error)
}

// SourceFunc adapts a function to DataSource.
type SourceFunc func() ([]Row, error)

func (f SourceFunc) Rows() ([]Row, error) { return f() }

type inlineSource []Row

func (s inlineSource) Rows() ([]Row, error) {
	out := make([]Row, len(s))
	for i, r := range s {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

// Inline serves rows held in memory.
func Inline(rows ...Row) DataSource { return inlineSource(rows) }

type csvSource struct {
	open      func() (io.ReadCloser, error)
	separator rune
}

// CSVFile reads a comma separated file whose first record is the header.
func CSVFile(path string) DataSource {
	return &csvSource{
		open:      func() (io.ReadCloser, error) { return os.Open(path) },
		separator: ',',
	}
}

// CSV reads records from r. The first record is the header.
func CSV(r io.Reader) DataSource {
	return &csvSource{
		open:      func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		separator: ',',
	}
}

// TSVFile reads a tab separated file.
func TSVFile(path string) DataSource {
	s := CSVFile(path).(*csvSource)
	s.separator = '\t'
	return s
}

func (s *csvSource) Rows() ([]Row, error) {
	rc, err := s.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.Comma = s.separator
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type jsonSource struct {
	path string
	data []byte
}

// JSONFile reads a JSON array of flat objects. Non-string values are
// stored in their JSON text form.
func JSONFile(path string) DataSource { return &jsonSource{path: path} }

// JSON reads a JSON array of flat objects from memory.
func JSON(data []byte) DataSource { return &jsonSource{data: data} }

func (s *jsonSource) Rows() ([]Row, error) {
	data := s.data
	if data == nil {
		var err error
		if data, err = os.ReadFile(s.path); err != nil {
			return nil, err
		}
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("JSON feeder source must be an array of objects")
	}

	var rows []Row
	var rowErr error
	doc.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			rowErr = fmt.Errorf("element %d is not an object", len(rows))
			return false
		}
		row := Row{}
		item.ForEach(func(key, value gjson.Result) bool {
			if value.Type == gjson.String {
				row[key.String()] = value.String()
			} else {
				row[key.String()] = value.Raw
			}
			return true
		})
		rows = append(rows, row)
		return true
	})
	return rows, rowErr
}
