package ledger

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"GridSentinel/internal/model"
)

// TimeLayout is the timestamp format of the ledger's first column.
const TimeLayout = "2006-01-02 15:04:05"

// Header is the first row of every ledger file.
var Header = []string{"timestamp", "ticker_symbol", "remark", "side", "trigger_price", "actual_price", "new_cost_price"}

// utf8BOM lets spreadsheet tools detect the encoding of remarks.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Ledger is an append-only CSV record of confirmed executions. Rows are never
// rewritten or removed.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// New creates a Ledger writing to path. The file is created on first append.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Append writes one row and syncs it to disk.
func (l *Ledger) Append(rec model.TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if _, err := f.Write(utf8BOM); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
	}
	if err := w.Write(encode(rec)); err != nil {
		return fmt.Errorf("write ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return f.Sync()
}

// ReadAll returns every recorded execution in file order. A missing file is
// an empty ledger.
func (l *Ledger) ReadAll() ([]model.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = len(Header)

	var out []model.TransactionRecord
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read ledger: %w", err)
		}
		if line == 1 && row[0] == Header[0] {
			continue
		}
		rec, err := decode(row)
		if err != nil {
			return out, fmt.Errorf("ledger line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of recorded executions.
func (l *Ledger) Count() (int, error) {
	recs, err := l.ReadAll()
	return len(recs), err
}

func encode(rec model.TransactionRecord) []string {
	return []string{
		rec.Timestamp.Format(TimeLayout),
		rec.TickerSymbol,
		rec.Remark,
		string(rec.Side),
		rec.TriggerPrice.String(),
		rec.ActualPrice.String(),
		rec.NewCostPrice.String(),
	}
}

func decode(row []string) (model.TransactionRecord, error) {
	ts, err := time.ParseInLocation(TimeLayout, row[0], time.Local)
	if err != nil {
		return model.TransactionRecord{}, err
	}
	side, err := model.ParseSide(row[3])
	if err != nil {
		return model.TransactionRecord{}, err
	}
	var prices [3]decimal.Decimal
	for i := range prices {
		if prices[i], err = decimal.NewFromString(row[4+i]); err != nil {
			return model.TransactionRecord{}, fmt.Errorf("column %s: %w", Header[4+i], err)
		}
	}
	return model.TransactionRecord{
		Timestamp:    ts,
		TickerSymbol: row[1],
		Remark:       row[2],
		Side:         side,
		TriggerPrice: prices[0],
		ActualPrice:  prices[1],
		NewCostPrice: prices[2],
	}, nil
}
