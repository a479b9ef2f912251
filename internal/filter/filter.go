package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpIn  Op = "in"
)

var sqlOps = map[Op]string{
	OpEq:  "=",
	OpNeq: "<>",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Filter selects rows whose Column compares to Values under Op.
// Values has exactly one element except for OpIn.
type Filter struct {
	Column string
	Op     Op
	Values []string
}

// Eq builds a column=eq.value filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: OpEq, Values: []string{value}}
}

// ParseError describes a malformed filter expression.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Expr, e.Reason)
}

// Parse reads a column=op.value expression.
func Parse(expr string) (Filter, error) {
	column, rest, ok := strings.Cut(expr, "=")
	if !ok {
		return Filter{}, &ParseError{Expr: expr, Reason: "missing '='"}
	}
	op, value, ok := strings.Cut(rest, ".")
	if !ok {
		return Filter{}, &ParseError{Expr: expr, Reason: "missing '.' after operator"}
	}

	f := Filter{Column: column, Op: Op(op)}
	if Op(op) == OpIn {
		if !strings.HasPrefix(value, "(") || !strings.HasSuffix(value, ")") {
			return Filter{}, &ParseError{Expr: expr, Reason: "in operator needs a parenthesized list"}
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(value, "("), ")")
		if inner == "" {
			return Filter{}, &ParseError{Expr: expr, Reason: "empty in list"}
		}
		f.Values = strings.Split(inner, ",")
	} else {
		f.Values = []string{value}
	}

	if err := f.Validate(); err != nil {
		return Filter{}, &ParseError{Expr: expr, Reason: err.Error()}
	}
	return f, nil
}

// Validate checks the column name, operator and value count.
func (f Filter) Validate() error {
	if !identPattern.MatchString(f.Column) {
		return fmt.Errorf("invalid column name %q", f.Column)
	}
	switch f.Op {
	case OpIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("in needs at least one value")
		}
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		if len(f.Values) != 1 {
			return fmt.Errorf("%s needs exactly one value", f.Op)
		}
	default:
		return fmt.Errorf("unknown operator %q", f.Op)
	}
	return nil
}

// String renders the filter back to column=op.value form.
func (f Filter) String() string {
	if f.Op == OpIn {
		return fmt.Sprintf("%s=in.(%s)", f.Column, strings.Join(f.Values, ","))
	}
	return fmt.Sprintf("%s=%s.%s", f.Column, f.Op, strings.Join(f.Values, ""))
}

// Match reports whether row satisfies the filter. A missing column never
// matches. Numeric row values are compared numerically, everything else as
// text.
func (f Filter) Match(row map[string]any) bool {
	raw, ok := row[f.Column]
	if !ok || raw == nil {
		return false
	}

	if f.Op == OpIn {
		for _, v := range f.Values {
			if compare(raw, v) == 0 {
				return true
			}
		}
		return false
	}

	c := compare(raw, f.Values[0])
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// compare returns -1, 0 or 1 comparing a row value to a filter literal.
func compare(raw any, literal string) int {
	if n, ok := asFloat(raw); ok {
		if lit, err := strconv.ParseFloat(literal, 64); err == nil {
			switch {
			case n < lit:
				return -1
			case n > lit:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(raw), literal)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// SQL compiles the filter to a Postgres predicate. Placeholders are numbered
// from firstParam ($1 when firstParam is 1).
func (f Filter) SQL(firstParam int) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	params := make([]any, len(f.Values))
	for i, v := range f.Values {
		params[i] = v
	}

	if f.Op == OpIn {
		placeholders := make([]string, len(f.Values))
		for i := range f.Values {
			placeholders[i] = fmt.Sprintf("$%d", firstParam+i)
		}
		return fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(placeholders, ", ")), params, nil
	}

	return fmt.Sprintf("%s %s $%d", f.Column, sqlOps[f.Op], firstParam), params, nil
}
