package tables

import (
	"context"
	"fmt"
	"sync"
)

// Op names a gateway operation for failure injection and call counting.
type Op string

const (
	OpReadAll     Op = "read_all"
	OpAppendRow   Op = "append_row"
	OpUpdateCell  Op = "update_cell"
	OpBatchUpdate Op = "batch_update"
	OpDeleteRow   Op = "delete_row"
)

type injectedFailure struct {
	err   error
	times int
}

// MemoryGateway keeps the tables in process. It serves as the store when no
// spreadsheet is configured and as the gateway in tests.
type MemoryGateway struct {
	mu       sync.Mutex
	rows     map[Table][]Row
	failures map[Op]*injectedFailure
	calls    map[Op]int
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		rows:     make(map[Table][]Row),
		failures: make(map[Op]*injectedFailure),
		calls:    make(map[Op]int),
	}
}

// Seed replaces the content of t.
func (g *MemoryGateway) Seed(t Table, rows ...Row) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows[t] = make([]Row, 0, len(rows))
	for _, r := range rows {
		g.rows[t] = append(g.rows[t], cloneRow(r))
	}
}

// FailNext makes the next n calls of op return err.
func (g *MemoryGateway) FailNext(op Op, err error, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = &injectedFailure{err: err, times: n}
}

// Calls returns how many times op was invoked, failed calls included.
func (g *MemoryGateway) Calls(op Op) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Rows returns a copy of the current content of t.
func (g *MemoryGateway) Rows(t Table) []Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneRows(g.rows[t])
}

func (g *MemoryGateway) ReadAll(ctx context.Context, t Table) ([]Row, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpReadAll); err != nil {
		return nil, err
	}
	return cloneRows(g.rows[t]), nil
}

func (g *MemoryGateway) AppendRow(ctx context.Context, t Table, row Row) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpAppendRow); err != nil {
		return err
	}
	g.rows[t] = append(g.rows[t], cloneRow(row))
	return nil
}

func (g *MemoryGateway) UpdateCell(ctx context.Context, t Table, key, column, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpUpdateCell); err != nil {
		return err
	}
	return g.set(t, CellUpdate{Key: key, Column: column, Value: value})
}

func (g *MemoryGateway) BatchUpdate(ctx context.Context, t Table, updates []CellUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpBatchUpdate); err != nil {
		return err
	}
	// Resolve everything first so a bad key leaves the table untouched.
	for _, u := range updates {
		if _, err := g.find(t, u.Key); err != nil {
			return err
		}
		if err := checkColumn(t, u.Column); err != nil {
			return err
		}
	}
	for _, u := range updates {
		if err := g.set(t, u); err != nil {
			return err
		}
	}
	return nil
}

func (g *MemoryGateway) DeleteRow(ctx context.Context, t Table, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpDeleteRow); err != nil {
		return err
	}
	idx, err := g.find(t, key)
	if err != nil {
		return err
	}
	g.rows[t] = append(g.rows[t][:idx], g.rows[t][idx+1:]...)
	return nil
}

func (g *MemoryGateway) enter(ctx context.Context, op Op) error {
	g.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f, ok := g.failures[op]; ok && f.times > 0 {
		f.times--
		return f.err
	}
	return nil
}

func (g *MemoryGateway) set(t Table, u CellUpdate) error {
	if err := checkColumn(t, u.Column); err != nil {
		return err
	}
	idx, err := g.find(t, u.Key)
	if err != nil {
		return err
	}
	g.rows[t][idx][u.Column] = u.Value
	return nil
}

func (g *MemoryGateway) find(t Table, key string) (int, error) {
	col := KeyColumn(t)
	for i, r := range g.rows[t] {
		if KeyMatches(t, r[col], key) {
			return i, nil
		}
	}
	return -1, Permanent(fmt.Errorf("%s %s=%q: %w", t, col, key, ErrRowNotFound))
}

func checkColumn(t Table, column string) error {
	for _, c := range columns[t] {
		if c == column {
			return nil
		}
	}
	return Permanent(fmt.Errorf("%s.%s: %w", t, column, ErrUnknownColumn))
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out
}
