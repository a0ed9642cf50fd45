// Package tables describes the three remote tables the broker mirrors and the
// row-oriented contract every table gateway implements.
package tables

import "strings"

// Table names one of the remote tables.
type Table string

const (
	Users        Table = "users"
	Reservations Table = "reservations"
	Carts        Table = "carts"
)

// Column names, matched against the header row by name.
const (
	ColHandle = "handle"
	ColChatID = "chat_id"

	ColID          = "id"
	ColCart        = "cart"
	ColStart       = "start"
	ColEnd         = "end"
	ColActualStart = "actual_start"
	ColActualEnd   = "actual_end"
	ColHolder      = "holder"
	ColStatus      = "status"
	ColEvidence    = "evidence"

	ColName     = "name"
	ColLockCode = "lock_code"
	ColActive   = "active"
)

var columns = map[Table][]string{
	Users:        {ColHandle, ColChatID},
	Reservations: {ColID, ColCart, ColStart, ColEnd, ColActualStart, ColActualEnd, ColHolder, ColStatus, ColEvidence, ColChatID},
	Carts:        {ColName, ColLockCode, ColActive},
}

var keyColumns = map[Table]string{
	Users:        ColHandle,
	Reservations: ColID,
	Carts:        ColName,
}

// All lists the tables in refresh order.
func All() []Table {
	return []Table{Users, Reservations, Carts}
}

// Columns returns the canonical header of t.
func Columns(t Table) []string {
	return append([]string(nil), columns[t]...)
}

// KeyColumn returns the column that uniquely identifies a row of t.
func KeyColumn(t Table) string {
	return keyColumns[t]
}

// Row is one table row keyed by column name.
type Row map[string]string

// Key returns the value of the table's key column.
func (r Row) Key(t Table) string {
	return r[KeyColumn(t)]
}

// CellUpdate addresses one cell by row key and column name.
type CellUpdate struct {
	Key    string
	Column string
	Value  string
}

// KeyMatches reports whether a stored key cell addresses key. User handles
// compare case-insensitively and without a leading "@".
func KeyMatches(t Table, stored, key string) bool {
	stored = strings.TrimSpace(stored)
	if t == Users {
		return foldHandle(stored) == foldHandle(key)
	}
	return stored == key
}

func foldHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
