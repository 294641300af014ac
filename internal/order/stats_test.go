package order_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

func statsOrder(status order.OrderStatus, total float64, createdAt time.Time) order.Order {
	return order.Order{Status: status, TotalAmount: total, CreatedAt: createdAt}
}

func TestComputeStats_Buckets(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	orders := []order.Order{
		statsOrder(order.StatusPending, 10, now),
		statsOrder(order.StatusConfirmed, 20, now),
		statsOrder(order.StatusProcessing, 30, yesterday),
		statsOrder(order.StatusPacked, 40, yesterday),
		statsOrder(order.StatusShipped, 50, yesterday),
		statsOrder(order.StatusOutForDelivery, 60, yesterday),
		statsOrder(order.StatusDelivered, 70.5, now.Add(-15*time.Hour)),
		statsOrder(order.StatusCancelled, 80, yesterday),
		statsOrder(order.StatusReturned, 90, yesterday),
		statsOrder(order.StatusRefunded, 100, yesterday),
	}

	got := order.ComputeStats(orders, now)

	assert.Equal(t, order.Stats{
		Total:             10,
		Pending:           1,
		Processing:        3,
		Shipped:           2,
		Delivered:         1,
		Cancelled:         3,
		TodayOrders:       3,
		Revenue:           180.5,
		AverageOrderValue: 18.05,
		AverageOrderTotal: 55.05,
	}, got)
	assert.Equal(t, got.Total, got.Pending+got.Processing+got.Shipped+got.Delivered+got.Cancelled)
}

func TestComputeStats_Empty(t *testing.T) {
	got := order.ComputeStats(nil, time.Now())
	assert.Equal(t, order.Stats{}, got)
}

func TestComputeStats_RevenueOnlyCountsShippedOrLater(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	for _, s := range order.AllStatuses {
		t.Run(string(s), func(t *testing.T) {
			got := order.ComputeStats([]order.Order{statsOrder(s, 42.42, now)}, now)
			if order.IsRevenueRecognized(s) {
				assert.Equal(t, 42.42, got.Revenue)
			} else {
				assert.Zero(t, got.Revenue)
			}
			assert.Equal(t, 42.42, got.AverageOrderTotal)
		})
	}
}

func TestComputeStats_IndependentOfOrder(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	r := rand.New(rand.NewPCG(1, 2))

	orders := make([]order.Order, 200)
	for i := range orders {
		s := order.AllStatuses[r.IntN(len(order.AllStatuses))]
		total := float64(r.IntN(100_000)) / 100
		orders[i] = statsOrder(s, total, now.Add(-time.Duration(r.IntN(72))*time.Hour))
	}

	want := order.ComputeStats(orders, now)
	for i := 0; i < 5; i++ {
		shuffled := append([]order.Order(nil), orders...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, order.ComputeStats(shuffled, now))
	}
}

func TestComputeStats_TodayUsesClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, loc)

	// 2024-03-09 23:30 UTC is already 2024-03-10 in UTC+10.
	orders := []order.Order{statsOrder(order.StatusPending, 1, time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC))}

	assert.Equal(t, 1, order.ComputeStats(orders, now).TodayOrders)
	assert.Equal(t, 0, order.ComputeStats(orders, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)).TodayOrders)
}
