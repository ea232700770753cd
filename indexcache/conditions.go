package indexcache

import (
	"regexp"
	"strings"
)

var (
	conjunction = regexp.MustCompile(`(?i)\s+AND\s+`)
	equalTerm   = regexp.MustCompile("^\\(?(?:[`\"]?(\\w+)[`\"]?\\.)?[`\"]?(\\w+)[`\"]?\\s*=\\s*(\\?|'(?:[^']|'')*'|-?\\d+(?:\\.\\d+)?|(?i:true|false))\\)?$")
)

// caster converts a SQL literal into the Go value of a column.
type caster func(column, literal string) (any, error)

// parseConditions reads a raw SQL fragment made only of "column = value" terms
// joined by AND. Values are string, numeric or boolean literals or "?"
// placeholders bound in order to args. Any other shape, a term on a foreign
// table, a repeated column or an unused argument reports false.
func parseConditions(sql string, args []any, table string, cast caster) (Conditions, bool) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return Conditions{}, len(args) == 0
	}

	out := Conditions{}
	next := 0
	for _, term := range conjunction.Split(sql, -1) {
		m := equalTerm.FindStringSubmatch(strings.TrimSpace(term))
		if m == nil {
			return nil, false
		}
		qualifier, column, literal := m[1], m[2], m[3]
		if qualifier != "" && table != "" && qualifier != table {
			return nil, false
		}
		if _, dup := out[column]; dup {
			return nil, false
		}

		switch {
		case literal == "?":
			if next >= len(args) {
				return nil, false
			}
			out[column] = args[next]
			next++
		case strings.HasPrefix(literal, "'"):
			v, err := cast(column, strings.ReplaceAll(literal[1:len(literal)-1], "''", "'"))
			if err != nil {
				return nil, false
			}
			out[column] = v
		default:
			v, err := cast(column, strings.ToLower(literal))
			if err != nil {
				return nil, false
			}
			out[column] = v
		}
	}

	if next != len(args) {
		return nil, false
	}
	return out, true
}
