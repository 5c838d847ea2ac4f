// Package ingest loads transactions from CSV exports.
package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/shopspring/decimal"
)

// Normalized header names.
const (
	ColumnTransactionID   = "transaction_id"
	ColumnAmount          = "amount"
	ColumnTimestamp       = "timestamp"
	ColumnDescription     = "description"
	ColumnTransactionType = "transaction_type"
	ColumnAccountNumber   = "account_number"
)

var requiredColumns = []string{
	ColumnTransactionID,
	ColumnAmount,
	ColumnTimestamp,
	ColumnDescription,
	ColumnTransactionType,
	ColumnAccountNumber,
}

// ErrInvalidStructure is returned when the header lacks a required column
// or the file has no data rows.
var ErrInvalidStructure = errors.New("invalid CSV structure")

// RowError describes a data row that could not be parsed.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ParseResult holds the parsed transactions and the rows that failed.
type ParseResult struct {
	Transactions []*domain.Transaction
	Errors       []*RowError
}

// normalizeHeader turns "Transaction ID" and " transaction_id " into "transaction_id".
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(h, "_", " "))), "_")
}

// ParseCSV reads a header row and one transaction per data row. Every
// parsed transaction starts Pending. A malformed row is reported in
// ParseResult.Errors; only a broken header or an empty file fails the parse.
func ParseCSV(r io.Reader, now time.Time) (ParseResult, error) {
	var res ParseResult

	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	header, err := csvr.Read()
	if err == io.EOF {
		return res, fmt.Errorf("ParseCSV: empty file: %w", ErrInvalidStructure)
	}
	if err != nil {
		return res, fmt.Errorf("ParseCSV: reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[normalizeHeader(h)] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return res, fmt.Errorf("ParseCSV: missing columns %s: %w", strings.Join(missing, ", "), ErrInvalidStructure)
	}

	line := 1
	rows := 0
	for {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line++
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			res.Errors = append(res.Errors, &RowError{Line: line, Err: err})
			rows++
			continue
		}
		line, _ = csvr.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		rows++

		// File order is kept as insertion order for oldest-first batching.
		tx, err := parseRecord(rec, index, now.Add(time.Duration(len(res.Transactions))*time.Microsecond))
		if err != nil {
			res.Errors = append(res.Errors, &RowError{Line: line, Err: err})
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}

	if rows == 0 {
		return res, fmt.Errorf("ParseCSV: no data rows: %w", ErrInvalidStructure)
	}
	return res, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func field(rec []string, index map[string]int, col string) string {
	i := index[col]
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseRecord(rec []string, index map[string]int, createdAt time.Time) (*domain.Transaction, error) {
	id := field(rec, index, ColumnTransactionID)
	if id == "" {
		return nil, errors.New("transaction id is empty")
	}

	amountStr := field(rec, index, ColumnAmount)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amountStr, err)
	}

	ts, err := parseTimestamp(field(rec, index, ColumnTimestamp))
	if err != nil {
		return nil, err
	}

	txType, err := domain.ParseTransactionType(field(rec, index, ColumnTransactionType))
	if err != nil {
		return nil, err
	}

	tx := domain.NewTransaction(id, amount, ts, field(rec, index, ColumnDescription), txType, field(rec, index, ColumnAccountNumber))
	tx.CreatedAt = createdAt
	return tx, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// parseTimestamp accepts RFC3339, "2006-01-02 15:04:05" or a bare date, all
// read as UTC when no offset is given.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
