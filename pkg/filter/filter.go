// Package filter implements the chainable predicate algebra shared by
// select, vector, keyword, and hybrid queries. A Filter is an immutable
// list of atomic predicates ANDed together; Compile turns it into a
// parameterized SQL WHERE fragment plus ordering/limit clauses.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
)

// Kind identifies a predicate's comparison semantics.
type Kind int

const (
	Eq Kind = iota
	Neq
	Gt
	Gte
	Lt
	Lte
	Between
	In
	NotIn
	IsNull
	IsNotNull
	Contains
	ILike
	Regex
)

// Predicate is one atomic filter term.
type Predicate struct {
	Kind Kind
	Col  string
	Val  any
	Val2 any // upper bound for Between
	Vals []any
}

// Filter is an immutable, appendable list of ANDed predicates plus a
// trailing order/limit. Every chain method returns a new Filter value;
// none mutate the receiver.
type Filter struct {
	predicates []Predicate
	orderCol   string
	orderDesc  bool
	hasOrder   bool
	limitN     int
	hasLimit   bool
}

// New returns the empty filter (matches every row).
func New() Filter { return Filter{} }

func (f Filter) append(p Predicate) Filter {
	next := Filter{
		predicates: make([]Predicate, len(f.predicates)+1),
		orderCol:   f.orderCol,
		orderDesc:  f.orderDesc,
		hasOrder:   f.hasOrder,
		limitN:     f.limitN,
		hasLimit:   f.hasLimit,
	}
	copy(next.predicates, f.predicates)
	next.predicates[len(f.predicates)] = p
	return next
}

func (f Filter) Eq(col string, v any) Filter  { return f.append(Predicate{Kind: Eq, Col: col, Val: v}) }
func (f Filter) Neq(col string, v any) Filter { return f.append(Predicate{Kind: Neq, Col: col, Val: v}) }
func (f Filter) Gt(col string, v any) Filter  { return f.append(Predicate{Kind: Gt, Col: col, Val: v}) }
func (f Filter) Gte(col string, v any) Filter { return f.append(Predicate{Kind: Gte, Col: col, Val: v}) }
func (f Filter) Lt(col string, v any) Filter  { return f.append(Predicate{Kind: Lt, Col: col, Val: v}) }
func (f Filter) Lte(col string, v any) Filter { return f.append(Predicate{Kind: Lte, Col: col, Val: v}) }

// Between is inclusive on both sides. Pass nil for lo or hi to leave
// that side open.
func (f Filter) Between(col string, lo, hi any) Filter {
	return f.append(Predicate{Kind: Between, Col: col, Val: lo, Val2: hi})
}

func (f Filter) In(col string, vals []any) Filter {
	return f.append(Predicate{Kind: In, Col: col, Vals: vals})
}

func (f Filter) NotIn(col string, vals []any) Filter {
	return f.append(Predicate{Kind: NotIn, Col: col, Vals: vals})
}

func (f Filter) IsNull(col string) Filter    { return f.append(Predicate{Kind: IsNull, Col: col}) }
func (f Filter) IsNotNull(col string) Filter { return f.append(Predicate{Kind: IsNotNull, Col: col}) }

func (f Filter) Contains(col string, v any) Filter {
	return f.append(Predicate{Kind: Contains, Col: col, Val: v})
}

// ILike is case-insensitive LIKE. If pattern contains no '%' or '_' it
// is wrapped as "%pattern%" at compile time.
func (f Filter) ILike(col, pattern string) Filter {
	return f.append(Predicate{Kind: ILike, Col: col, Val: pattern})
}

// Regex is a case-insensitive regexp match, validated at Compile time.
func (f Filter) Regex(col, pattern string) Filter {
	return f.append(Predicate{Kind: Regex, Col: col, Val: pattern})
}

// Order sets the (stable) sort column; ties break by ascending primary
// key at compile time.
func (f Filter) Order(col string, desc bool) Filter {
	next := f
	next.predicates = f.predicates
	next.orderCol = col
	next.orderDesc = desc
	next.hasOrder = true
	return next
}

// Limit caps the result count. Applied last, after ordering.
func (f Filter) Limit(n int) Filter {
	next := f
	next.predicates = f.predicates
	next.limitN = n
	next.hasLimit = true
	return next
}

func isUnset(v any) bool { return v == nil }

// Compiled is the SQL fragment produced by Compile.
type Compiled struct {
	Where       string // empty if no predicates
	Bindings    []any
	OrderBy     string // empty if no Order() call
	Limit       int
	HasLimit    bool
}

// Compile turns the filter into a parameterized WHERE clause. table
// provides column-type lookups (for Contains' array/object dispatch)
// and the primary-key name used as the ascending tie-break on Order.
func Compile(f Filter, table *schema.Table) (Compiled, error) {
	var clauses []string
	var bindings []any

	for _, p := range f.predicates {
		clause, vals, skip, err := compilePredicate(p, table)
		if err != nil {
			return Compiled{}, err
		}
		if skip {
			continue
		}
		clauses = append(clauses, clause)
		bindings = append(bindings, vals...)
	}

	out := Compiled{Bindings: bindings}
	if len(clauses) > 0 {
		out.Where = strings.Join(clauses, " AND ")
	}

	if f.hasOrder {
		dir := "ASC"
		if f.orderDesc {
			dir = "DESC"
		}
		order := fmt.Sprintf("%s %s", quoteIdent(f.orderCol), dir)
		if pk := table.PrimaryKey(); pk != "" && pk != f.orderCol {
			order += fmt.Sprintf(", %s ASC", quoteIdent(pk))
		}
		out.OrderBy = order
	}

	if f.hasLimit {
		out.Limit = f.limitN
		out.HasLimit = true
	}

	return out, nil
}

func compilePredicate(p Predicate, table *schema.Table) (clause string, bindings []any, skip bool, err error) {
	col := quoteIdent(p.Col)
	colDesc, _ := table.Column(p.Col)

	switch p.Kind {
	case Eq:
		return col + " = ?", []any{p.Val}, false, nil
	case Neq:
		return col + " <> ?", []any{p.Val}, false, nil
	case Gt:
		if isUnset(p.Val) {
			return "", nil, true, nil
		}
		return col + " > ?", []any{p.Val}, false, nil
	case Gte:
		if isUnset(p.Val) {
			return "", nil, true, nil
		}
		return col + " >= ?", []any{p.Val}, false, nil
	case Lt:
		if isUnset(p.Val) {
			return "", nil, true, nil
		}
		return col + " < ?", []any{p.Val}, false, nil
	case Lte:
		if isUnset(p.Val) {
			return "", nil, true, nil
		}
		return col + " <= ?", []any{p.Val}, false, nil
	case Between:
		loUnset, hiUnset := isUnset(p.Val), isUnset(p.Val2)
		switch {
		case loUnset && hiUnset:
			return "", nil, true, nil
		case loUnset:
			return col + " <= ?", []any{p.Val2}, false, nil
		case hiUnset:
			return col + " >= ?", []any{p.Val}, false, nil
		default:
			return col + " BETWEEN ? AND ?", []any{p.Val, p.Val2}, false, nil
		}
	case In:
		if len(p.Vals) == 0 {
			return "1=0", nil, false, nil // vacuously false
		}
		placeholders := strings.Repeat("?,", len(p.Vals))
		placeholders = placeholders[:len(placeholders)-1]
		return col + " IN (" + placeholders + ")", p.Vals, false, nil
	case NotIn:
		if len(p.Vals) == 0 {
			return "1=1", nil, false, nil // vacuously true
		}
		placeholders := strings.Repeat("?,", len(p.Vals))
		placeholders = placeholders[:len(placeholders)-1]
		return col + " NOT IN (" + placeholders + ")", p.Vals, false, nil
	case IsNull:
		return col + " IS NULL", nil, false, nil
	case IsNotNull:
		return col + " IS NOT NULL", nil, false, nil
	case Contains:
		return compileContains(col, colDesc, p.Val)
	case ILike:
		pattern, _ := p.Val.(string)
		if !strings.ContainsAny(pattern, "%_") {
			pattern = "%" + pattern + "%"
		}
		return "LOWER(" + col + ") LIKE LOWER(?)", []any{pattern}, false, nil
	case Regex:
		pattern, _ := p.Val.(string)
		if _, err := regexp.Compile(pattern); err != nil {
			return "", nil, false, verr.Wrap(verr.KindBadPattern, "compile_filter", err)
		}
		return col + " REGEXP ?", []any{pattern}, false, nil
	default:
		return "", nil, false, fmt.Errorf("unknown predicate kind %d", p.Kind)
	}
}

func compileContains(col string, colDesc schema.Column, v any) (string, []any, bool, error) {
	if colDesc.Type != schema.JSON {
		return "", nil, false, verr.Wrap(verr.KindFilterType, "compile_filter",
			fmt.Errorf("contains() requires a JSON column, got %q on column %q", colDesc.Type, colDesc.Name))
	}
	switch key := v.(type) {
	case string:
		// Either an array element match or an object key-exists test;
		// try both in one predicate so callers don't need to know which
		// shape the stored JSON takes.
		clause := "(EXISTS (SELECT 1 FROM json_each(" + col + ") WHERE value = ?) OR json_extract(" + col + ", '$.' || ?) IS NOT NULL)"
		return clause, []any{key, key}, false, nil
	default:
		clause := "EXISTS (SELECT 1 FROM json_each(" + col + ") WHERE value = ?)"
		return clause, []any{v}, false, nil
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
