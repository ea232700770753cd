package indexcache

import (
	"regexp"
	"strings"

	"github.com/goliatone/go-index-cache/cache"
)

// Conditions maps column names to the value they must hold. A cache.Range
// value selects the inclusive range, a []cache.Range value the union of
// ranges, a slice any of its members and nil a NULL column.
type Conditions map[string]any

// Query is the fixed set of options a lookup may carry. Only conjunctions of
// equalities with at most one range term, on a declared index, are answered
// from the cache; everything else is handed to the record store unchanged.
type Query struct {
	Where Conditions
	// SQL is a raw condition fragment with Args bound to its "?" placeholders.
	SQL  string
	Args []any

	Order  string
	Limit  int
	Offset int

	Readonly bool
	Select   []string
	Joins    []string
	Group    []string
}

// Eq builds a query for column = value.
func Eq(column string, value any) Query {
	return Query{Where: Conditions{column: value}}
}

// Between builds a query for first <= column <= last.
func Between(column string, first, last int64) Query {
	return Query{Where: Conditions{column: cache.NewRange(first, last)}}
}

var orderPattern = regexp.MustCompile("(?i)^(?:[`\"]?(\\w+)[`\"]?\\.)?[`\"]?(\\w+)[`\"]?(?:\\s+(ASC|DESC))?$")

// parseOrder splits an order clause made of a single column into its column
// and direction. The table qualifier, when present, is returned as well.
func parseOrder(order string) (table, column string, dir Order, ok bool) {
	m := orderPattern.FindStringSubmatch(strings.TrimSpace(order))
	if m == nil {
		return "", "", "", false
	}
	dir = Ascending
	if strings.EqualFold(m[3], "desc") {
		dir = Descending
	}
	return m[1], m[2], dir, true
}

// orderClause renders the record-store ordering of an index.
func orderClause(column string, dir Order) string {
	return column + " " + strings.ToUpper(string(dir))
}
