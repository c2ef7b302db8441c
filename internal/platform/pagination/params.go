package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
const DefaultPageSize = 50

// DefaultMaxPageSize caps the supported page_size to prevent unbounded queries.
const DefaultMaxPageSize = 100

const maxFilterValueLength = 512

// Operator enumerates the filter operators accepted in the query string.
// Staff listing screens use these to narrow quotations and orders.
type Operator string

const (
	OperatorEqual         Operator = "=="
	OperatorArrayContains Operator = "array-contains"

	OperatorGreaterThan  Operator = ">"
	OperatorGreaterEqual Operator = ">="
	OperatorLessThan     Operator = "<"
	OperatorLessEqual    Operator = "<="
)

// knownOperators is ordered longest token first so that splitting a raw
// filter never mistakes ">=" for ">".
var knownOperators = []Operator{
	OperatorArrayContains,
	OperatorGreaterEqual,
	OperatorLessEqual,
	OperatorEqual,
	OperatorGreaterThan,
	OperatorLessThan,
}

func (op Operator) known() bool {
	for _, candidate := range knownOperators {
		if op == candidate {
			return true
		}
	}
	return false
}

// Params bundles the page size, cursor, ordering and filters extracted from
// a listing request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor

	Orders  []Order
	Filters []Filter
}

// Cursor is the Firestore cursor payload carried inside page tokens.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Order describes a single order-by clause.
type Order struct {
	Field string
	Desc  bool
}

// Filter captures an individual filter predicate parsed from the query string.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

// Options let each handler declare its own defaults and which fields may be
// ordered or filtered on.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int

	AllowedOrderFields  []string
	AllowedFilterFields map[string][]Operator
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidOrderBy   = errors.New("pagination: invalid order_by")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// FromRequest parses the supported query parameters from the request URL.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse normalises the raw query values into Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	var params Params
	var err error

	if params.PageSize, err = pageSizeFrom(values.Get("page_size"), opts); err != nil {
		return Params{}, err
	}

	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}

	if params.Orders, err = ordersFrom(values["order_by"], opts.AllowedOrderFields); err != nil {
		return Params{}, err
	}

	if params.Filters, err = filtersFrom(values["filter"], opts.AllowedFilterFields); err != nil {
		return Params{}, err
	}

	return params, nil
}

func pageSizeFrom(raw string, opts Options) (int, error) {
	ceiling := opts.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	fallback := opts.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	if fallback > ceiling {
		fallback = ceiling
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	size, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	case size <= 0:
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	case size > ceiling:
		return ceiling, nil
	default:
		return size, nil
	}
}

func ordersFrom(values []string, allowed []string) ([]Order, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: ordering not supported", ErrInvalidOrderBy)
	}

	permitted := make(map[string]bool, len(allowed))
	for _, field := range allowed {
		if field != "" {
			permitted[field] = true
		}
	}

	var orders []Order
	seen := map[Order]bool{}
	for _, raw := range values {
		for _, clause := range strings.Split(raw, ",") {
			if clause = strings.TrimSpace(clause); clause == "" {
				continue
			}
			order, err := orderClause(clause)
			if err != nil {
				return nil, err
			}
			if !permitted[order.Field] {
				return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidOrderBy, order.Field)
			}
			if seen[order] {
				continue
			}
			seen[order] = true
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// orderClause parses "field", "field desc" or the "field:desc" shorthand
// some clients send.
func orderClause(clause string) (Order, error) {
	if strings.Contains(clause, ":") && !strings.Contains(clause, " ") {
		clause = strings.ReplaceAll(clause, ":", " ")
	}

	segments := strings.Fields(clause)
	switch {
	case len(segments) == 0:
		return Order{}, fmt.Errorf("%w: empty order_by value", ErrInvalidOrderBy)
	case len(segments) > 2:
		return Order{}, fmt.Errorf("%w: invalid order_by format %q", ErrInvalidOrderBy, clause)
	}

	order := Order{Field: segments[0]}
	if !safeFieldName(order.Field) {
		return Order{}, fmt.Errorf("%w: invalid field %q", ErrInvalidOrderBy, order.Field)
	}
	if len(segments) == 2 {
		switch strings.ToLower(segments[1]) {
		case "asc":
		case "desc":
			order.Desc = true
		default:
			return Order{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, segments[1])
		}
	}
	return order, nil
}

func filtersFrom(values []string, allowed map[string][]Operator) ([]Filter, error) {
	if len(values) == 0 {
		return nil, nil
	}

	permitted := permittedFilterOps(allowed)
	if len(permitted) == 0 {
		return nil, fmt.Errorf("%w: filtering not supported", ErrInvalidFilter)
	}

	filters := make([]Filter, 0, len(values))
	for _, raw := range values {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		filter, err := filterClause(raw)
		if err != nil {
			return nil, err
		}
		ops, ok := permitted[filter.Field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidFilter, filter.Field)
		}
		if !ops[filter.Op] {
			return nil, fmt.Errorf("%w: operator %q is not allowed for field %q", ErrInvalidFilter, filter.Op, filter.Field)
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

// permittedFilterOps expands the per-field operator lists; a field declared
// with no operators accepts all of them.
func permittedFilterOps(allowed map[string][]Operator) map[string]map[Operator]bool {
	permitted := make(map[string]map[Operator]bool, len(allowed))
	for field, ops := range allowed {
		if !safeFieldName(field) {
			continue
		}
		set := make(map[Operator]bool, len(ops))
		for _, op := range ops {
			if op.known() {
				set[op] = true
			}
		}
		if len(set) == 0 {
			for _, op := range knownOperators {
				set[op] = true
			}
		}
		permitted[field] = set
	}
	return permitted
}

func filterClause(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Filter{}, fmt.Errorf("%w: empty filter value", ErrInvalidFilter)
	}

	filter, ok := splitOnOperator(raw)
	if !ok {
		return Filter{}, fmt.Errorf("%w: missing operator in %q", ErrInvalidFilter, raw)
	}
	if !safeFieldName(filter.Field) {
		return Filter{}, fmt.Errorf("%w: invalid field %q", ErrInvalidFilter, filter.Field)
	}

	filter.Value = cleanFilterValue(filter.Value)
	if filter.Value == "" {
		return Filter{}, fmt.Errorf("%w: empty value for field %q", ErrInvalidFilter, filter.Field)
	}
	return filter, nil
}

func splitOnOperator(raw string) (Filter, bool) {
	for _, op := range knownOperators {
		idx := strings.Index(raw, string(op))
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(raw[:idx])
		value := strings.TrimSpace(raw[idx+len(op):])
		if field == "" || value == "" {
			continue
		}
		return Filter{Field: field, Op: op, Value: value}, true
	}
	return Filter{}, false
}

func cleanFilterValue(value string) string {
	value = strings.Trim(strings.TrimSpace(value), "\"'")
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}

// safeFieldName keeps user-supplied field names to the characters Firestore
// field paths actually use.
func safeFieldName(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// Must ensures PageSize is always initialised with a sensible default before use.
func Must(params Params) Params {
	if params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	return params
}
