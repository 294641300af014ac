package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats summarises an order set for the admin dashboard.
type Stats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Shipped     int `json:"shipped"`
	Delivered   int `json:"delivered"`
	Cancelled   int `json:"cancelled"`
	TodayOrders int `json:"todayOrders"`

	Revenue float64 `json:"revenue"`
	// AverageOrderValue is Revenue divided by Total.
	AverageOrderValue float64 `json:"averageOrderValue"`
	// AverageOrderTotal is the mean TotalAmount across every order, whatever its status.
	AverageOrderTotal float64 `json:"averageOrderTotal"`
}

// IsRevenueRecognized reports whether an order in status s counts towards revenue.
func IsRevenueRecognized(s OrderStatus) bool {
	switch s {
	case StatusShipped, StatusOutForDelivery, StatusDelivered:
		return true
	}
	return false
}

// ComputeStats is pure: the same order set and clock always give the same Stats.
func ComputeStats(orders []Order, now time.Time) Stats {
	var st Stats
	st.Total = len(orders)

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	revenue := decimal.Zero
	all := decimal.Zero

	for i := range orders {
		o := &orders[i]
		switch o.Status {
		case StatusPending:
			st.Pending++
		case StatusConfirmed, StatusProcessing, StatusPacked:
			st.Processing++
		case StatusShipped, StatusOutForDelivery:
			st.Shipped++
		case StatusDelivered:
			st.Delivered++
		case StatusCancelled, StatusReturned, StatusRefunded:
			st.Cancelled++
		}

		created := o.CreatedAt.In(now.Location())
		if !created.Before(dayStart) && created.Before(dayEnd) {
			st.TodayOrders++
		}

		amount := decimal.NewFromFloat(o.TotalAmount)
		all = all.Add(amount)
		if IsRevenueRecognized(o.Status) {
			revenue = revenue.Add(amount)
		}
	}

	st.Revenue = revenue.Round(2).InexactFloat64()
	if st.Total > 0 {
		n := decimal.NewFromInt(int64(st.Total))
		st.AverageOrderValue = revenue.Div(n).Round(2).InexactFloat64()
		st.AverageOrderTotal = all.Div(n).Round(2).InexactFloat64()
	}
	return st
}
