package order

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

type DateRange struct {
	Start time.Time
	End   time.Time
}

// Filter narrows an order set. Zero-valued fields do not constrain the result.
type Filter struct {
	Status     OrderStatus
	SearchTerm string
	DateRange  *DateRange
}

func (f Filter) Match(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.SearchTerm != "" {
		term := strings.ToLower(f.SearchTerm)
		if !strings.Contains(strings.ToLower(o.OrderNumber), term) &&
			!strings.Contains(strings.ToLower(o.Customer.DisplayName), term) &&
			!strings.Contains(strings.ToLower(o.Customer.Email), term) {
			return false
		}
	}
	if r := f.DateRange; r != nil {
		if !r.Start.IsZero() && o.CreatedAt.Before(r.Start) {
			return false
		}
		if !r.End.IsZero() && o.CreatedAt.After(r.End) {
			return false
		}
	}
	return true
}

// FilterOrders returns the orders matching f, in input order.
func FilterOrders(orders []Order, f Filter) []Order {
	out := make([]Order, 0, len(orders))
	for i := range orders {
		if f.Match(&orders[i]) {
			out = append(out, orders[i])
		}
	}
	return out
}

type SortField string

const (
	SortByCreatedAt   SortField = "created_at"
	SortByTotalAmount SortField = "total_amount"
	SortByStatus      SortField = "status"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

func ParseSort(field, dir string) (SortField, SortDirection, error) {
	f := SortField(field)
	switch f {
	case "":
		f = SortByCreatedAt
	case SortByCreatedAt, SortByTotalAmount, SortByStatus:
	default:
		return "", "", fmt.Errorf("unknown sort field %q", field)
	}

	d := SortDirection(strings.ToLower(dir))
	switch d {
	case "":
		d = SortDesc
	case SortAsc, SortDesc:
	default:
		return "", "", fmt.Errorf("unknown sort direction %q", dir)
	}
	return f, d, nil
}

// SortOrders returns a sorted copy. Ties keep their input order in both directions.
func SortOrders(orders []Order, field SortField, dir SortDirection) []Order {
	out := slices.Clone(orders)

	var compare func(a, b *Order) int
	switch field {
	case SortByTotalAmount:
		compare = func(a, b *Order) int { return cmp.Compare(a.TotalAmount, b.TotalAmount) }
	case SortByStatus:
		compare = func(a, b *Order) int { return strings.Compare(string(a.Status), string(b.Status)) }
	default:
		compare = func(a, b *Order) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}

	slices.SortStableFunc(out, func(a, b Order) int {
		c := compare(&a, &b)
		if dir == SortDesc {
			return -c
		}
		return c
	})
	return out
}
