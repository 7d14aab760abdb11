// Package feeder supplies per-iteration data rows to virtual users.
package feeder

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync/atomic"
)

// ErrFeederExhausted is returned by Next once a queue or shuffle feeder
// has handed out every row.
var ErrFeederExhausted = errors.New("feeder exhausted")

// Row is one record of a data source, keyed by column name.
type Row map[string]string

// Strategy selects how rows are drawn.
type Strategy string

const (
	// Queue hands out rows in order and fails once they run out.
	Queue Strategy = "queue"
	// Circular hands out rows in order and wraps around.
	Circular Strategy = "circular"
	// Random picks a row uniformly at random, with replacement.
	Random Strategy = "random"
	// Shuffle hands out a one-time random permutation, then fails.
	Shuffle Strategy = "shuffle"
)

// ParseStrategy accepts the strategy names plus "exhausting" as an alias
// of queue.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Queue, Circular, Random, Shuffle:
		return Strategy(s), nil
	case "exhausting", "":
		return Queue, nil
	}
	return "", fmt.Errorf("unknown feeder strategy %q", s)
}

// Feeder is shared by every virtual user of a run. Next is safe for
// concurrent use.
type Feeder struct {
	name     string
	strategy Strategy
	rows     []Row
	columns  []string
	cursor   atomic.Uint64
}

// New loads every row from src up front.
func New(name string, src DataSource, strategy Strategy) (*Feeder, error) {
	rows, err := src.Rows()
	if err != nil {
		return nil, fmt.Errorf("feeder %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("feeder %s: data source has no rows", name)
	}

	columns := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	for i, r := range rows[1:] {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("feeder %s: row %d has %d columns, want %d", name, i+1, len(r), len(columns))
		}
		for _, c := range columns {
			if _, ok := r[c]; !ok {
				return nil, fmt.Errorf("feeder %s: row %d is missing column %q", name, i+1, c)
			}
		}
	}

	switch strategy {
	case Queue, Circular, Random:
	case Shuffle:
		rows = append([]Row{}, rows...)
		rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	default:
		return nil, fmt.Errorf("feeder %s: unknown strategy %q", name, strategy)
	}

	return &Feeder{name: name, strategy: strategy, rows: rows, columns: columns}, nil
}

func (f *Feeder) Name() string { return f.name }

func (f *Feeder) Strategy() Strategy { return f.strategy }

func (f *Feeder) Len() int { return len(f.rows) }

// Columns returns the sorted column names.
func (f *Feeder) Columns() []string { return append([]string{}, f.columns...) }

// HasColumn reports whether rows carry the named column.
func (f *Feeder) HasColumn(name string) bool {
	i := sort.SearchStrings(f.columns, name)
	return i < len(f.columns) && f.columns[i] == name
}

// Next draws a row. The returned map is a copy owned by the caller.
func (f *Feeder) Next() (Row, error) {
	var idx int
	switch f.strategy {
	case Random:
		idx = rand.IntN(len(f.rows))
	case Circular:
		n := f.cursor.Add(1) - 1
		idx = int(n % uint64(len(f.rows)))
	default:
		n := f.cursor.Add(1) - 1
		if n >= uint64(len(f.rows)) {
			return nil, fmt.Errorf("%w: %s (%d rows)", ErrFeederExhausted, f.name, len(f.rows))
		}
		idx = int(n)
	}

	row := make(Row, len(f.rows[idx]))
	for k, v := range f.rows[idx] {
		row[k] = v
	}
	return row, nil
}
