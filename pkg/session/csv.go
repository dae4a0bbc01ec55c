package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/srg/vitalink/pkg/parser"
)

// TimeColumn is the first column of every recording.
const TimeColumn = "time_ms"

// CSVField renders one value. nil becomes an empty field; values holding a
// comma, quote or newline are quoted with inner quotes doubled.
func CSVField(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		s = fmt.Sprint(x)
	}
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// Recording accumulates rows for one capture. The header is latched from the
// first sample; later samples are fitted to it (missing fields stay empty,
// unknown fields are dropped).
type Recording struct {
	mu     sync.Mutex
	header []string
	rows   []string
}

// Append adds a row for s taken at t. Nil samples are ignored.
func (r *Recording) Append(t time.Time, s *parser.Sample) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.header == nil {
		r.header = append([]string{TimeColumn}, s.Keys()...)
	}

	fields := make([]string, len(r.header))
	fields[0] = strconv.FormatInt(t.UnixMilli(), 10)
	for i, key := range r.header[1:] {
		v, _ := s.Get(key)
		fields[i+1] = CSVField(v)
	}
	r.rows = append(r.rows, strings.Join(fields, ","))
}

// Header returns the latched header, or nil before the first row.
func (r *Recording) Header() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.header...)
}

// Rows returns the number of data rows.
func (r *Recording) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Bytes serializes the header and rows joined by "\n", without a trailing
// newline. An empty recording serializes to nothing.
func (r *Recording) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.header == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString(strings.Join(r.header, ","))
	for _, row := range r.rows {
		b.WriteByte('\n')
		b.WriteString(row)
	}
	return []byte(b.String())
}

// Reset discards the header and all rows.
func (r *Recording) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header, r.rows = nil, nil
}
