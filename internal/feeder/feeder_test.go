package feeder

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeRows() DataSource {
	return Inline(
		Row{"categoryId": "6", "categoryName": "For Her"},
		Row{"categoryId": "7", "categoryName": "For Him"},
		Row{"categoryId": "8", "categoryName": "Unisex"},
	)
}

func TestCircular_Wraps(t *testing.T) {
	f, err := New("categories", threeRows(), Circular)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 7; i++ {
		row, err := f.Next()
		require.NoError(t, err)
		got = append(got, row["categoryId"])
	}
	// draw rowCount+i equals draw i
	assert.Equal(t, []string{"6", "7", "8", "6", "7", "8", "6"}, got)
}

func TestQueue_Exhausts(t *testing.T) {
	f, err := New("categories", threeRows(), Queue)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.Next()
		require.NoError(t, err)
	}
	_, err = f.Next()
	assert.True(t, errors.Is(err, ErrFeederExhausted))
	_, err = f.Next()
	assert.True(t, errors.Is(err, ErrFeederExhausted))
}

func TestShuffle_IsPermutation(t *testing.T) {
	f, err := New("categories", threeRows(), Shuffle)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		row, err := f.Next()
		require.NoError(t, err)
		seen[row["categoryId"]] = true
	}
	assert.Len(t, seen, 3)
	_, err = f.Next()
	assert.True(t, errors.Is(err, ErrFeederExhausted))
}

func TestRandom_NeverExhausts(t *testing.T) {
	f, err := New("categories", threeRows(), Random)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		row, err := f.Next()
		require.NoError(t, err)
		assert.Contains(t, []string{"6", "7", "8"}, row["categoryId"])
	}
}

func TestRandom_ConcurrentDraws(t *testing.T) {
	f, err := New("categories", threeRows(), Random)
	require.NoError(t, err)

	names := map[string]string{"6": "For Her", "7": "For Him", "8": "Unisex"}
	var mu sync.Mutex
	var bad []Row
	var failures int
	var wg sync.WaitGroup
	for w := 0; w < 64; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				row, err := f.Next()
				if err == nil && len(row) == 2 && names[row["categoryId"]] == row["categoryName"] {
					continue
				}
				mu.Lock()
				if err != nil {
					failures++
				} else {
					bad = append(bad, row)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures)
	assert.Empty(t, bad)
}

func TestNext_ReturnsCopy(t *testing.T) {
	f, err := New("categories", threeRows(), Circular)
	require.NoError(t, err)

	row, _ := f.Next()
	row["categoryId"] = "mutated"
	for i := 0; i < 2; i++ {
		_, _ = f.Next()
	}
	again, _ := f.Next()
	assert.Equal(t, "6", again["categoryId"])
}

func TestQueue_ConcurrentDrawsAreUnique(t *testing.T) {
	const n = 500
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{"i": strings.Repeat("x", i+1)}
	}
	f, err := New("big", Inline(rows...), Queue)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]int{}
	var exhausted int
	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 30; j++ {
				row, err := f.Next()
				mu.Lock()
				if err != nil {
					exhausted++
				} else {
					seen[row["i"]]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for k, c := range seen {
		if c != 1 {
			t.Errorf("row %d drawn %d times", len(k), c)
		}
	}
	assert.Equal(t, 20*30-n, exhausted)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("empty", Inline(), Circular)
	assert.Error(t, err)

	_, err = New("ragged", Inline(Row{"a": "1"}, Row{"b": "2"}), Circular)
	assert.Error(t, err)

	_, err = New("bad", threeRows(), Strategy("sideways"))
	assert.Error(t, err)
}

func TestCSVSource(t *testing.T) {
	f, err := New("products", CSV(strings.NewReader("productName,price\nBlue Hat,10.99\n\"Red, Hat\",12\n")), Circular)
	require.NoError(t, err)

	assert.Equal(t, []string{"price", "productName"}, f.Columns())
	assert.True(t, f.HasColumn("price"))
	assert.False(t, f.HasColumn("nope"))

	row, _ := f.Next()
	assert.Equal(t, "Blue Hat", row["productName"])
	row, _ = f.Next()
	assert.Equal(t, "Red, Hat", row["productName"])
}

func TestCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.csv")
	require.NoError(t, os.WriteFile(path, []byte("categoryId,categoryName\n6,For Her\n"), 0o644))

	f, err := New("categories", CSVFile(path), Random)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())

	_, err = New("missing", CSVFile(filepath.Join(t.TempDir(), "nope.csv")), Random)
	assert.Error(t, err)
}

func TestJSONSource(t *testing.T) {
	f, err := New("users", JSON([]byte(`[{"user":"a","age":3},{"user":"b","age":4}]`)), Queue)
	require.NoError(t, err)

	row, _ := f.Next()
	assert.Equal(t, Row{"user": "a", "age": "3"}, row)

	_, err = New("bad", JSON([]byte(`{"user":"a"}`)), Queue)
	assert.Error(t, err)
	_, err = New("bad", JSON([]byte(`[1,2]`)), Queue)
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
		err  bool
	}{
		{"queue", Queue, false},
		{"exhausting", Queue, false},
		{"", Queue, false},
		{"circular", Circular, false},
		{"random", Random, false},
		{"shuffle", Shuffle, false},
		{"other", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.err)
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
