package order

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// NewOrderNumber formats ORD-<last 6 digits of unix millis>-<3 random digits>.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%06d-%03d", now.UnixMilli()%1_000_000, rand.IntN(1000))
}

// Seeder produces synthetic orders for an empty store.
type Seeder struct {
	faker   *gofakeit.Faker
	catalog []Product
	pricing PricingPolicy
}

// NewSeeder builds a seeder. A zero seed draws a random one.
func NewSeeder(seed uint64, catalog *FixtureCatalog, pricing PricingPolicy) *Seeder {
	if catalog == nil {
		catalog = NewFixtureCatalog()
	}
	return &Seeder{
		faker:   gofakeit.New(seed),
		catalog: catalog.Products(),
		pricing: pricing,
	}
}

// Seed returns count orders created within the 30 days before now, newest first.
func (s *Seeder) Seed(count int, now time.Time) []Order {
	orders := make([]Order, 0, count)
	numbers := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		o := s.one(now)
		for numbers[o.OrderNumber] {
			o.OrderNumber = s.orderNumber(o.CreatedAt)
		}
		numbers[o.OrderNumber] = true
		orders = append(orders, o)
	}
	return SortOrders(orders, SortByCreatedAt, SortDesc)
}

func (s *Seeder) one(now time.Time) Order {
	f := s.faker

	createdAt := now.Add(-time.Duration(f.Number(60, 30*24*60*60)) * time.Second).Truncate(time.Second)

	items := make([]LineItem, f.Number(1, 3))
	for i := range items {
		p := s.catalog[f.Number(0, len(s.catalog)-1)]
		items[i] = LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  f.Number(1, 3),
		}
		if len(p.Sizes) > 0 {
			items[i].Size = f.RandomString(p.Sizes)
		}
		if len(p.Colors) > 0 {
			items[i].Color = f.RandomString(p.Colors)
		}
	}

	name := f.Name()
	address := Address{
		Name:    name,
		Street:  f.Street(),
		City:    f.City(),
		State:   f.State(),
		Zip:     f.Zip(),
		Country: "US",
		Phone:   f.Phone(),
	}

	o := Order{
		ID:          uuid.Must(uuid.NewV4()),
		OrderNumber: s.orderNumber(createdAt),
		Customer: Customer{
			ID:          "cust-" + f.DigitN(6),
			Email:       f.Email(),
			DisplayName: name,
			Phone:       address.Phone,
		},
		Items:           items,
		PaymentStatus:   PaymentPaid,
		PaymentMethod:   f.RandomString([]string{"card", "paypal", "cash_on_delivery"}),
		ShippingAddress: address,
		BillingAddress:  address,
		Priority:        Priority(f.RandomString([]string{string(PriorityLow), string(PriorityNormal), string(PriorityNormal), string(PriorityHigh), string(PriorityUrgent)})),
		Source:          Source(f.RandomString([]string{string(SourceWebsite), string(SourceWebsite), string(SourceMobileApp), string(SourcePhone)})),
		Status:          StatusPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
		StatusHistory: []StatusHistoryEntry{{
			Status:    StatusPending,
			Timestamp: createdAt,
			UpdatedBy: ActorSystem,
			Note:      "Order placed",
		}},
	}
	o.Subtotal = o.ItemsSubtotal()
	o.ShippingCost = s.pricing.Shipping(o.Subtotal)
	o.TaxAmount = s.pricing.Tax(o.Subtotal)
	o.TotalAmount = o.ComputedTotal()

	status := AllStatuses[f.Number(0, len(AllStatuses)-1)]
	if status != StatusPending {
		at := createdAt.Add(time.Duration(f.Number(1, 24*60*60)) * time.Second)
		if at.After(now) {
			at = now
		}
		// Seeded history is synthetic; the permissive engine records any status.
		if err := (&Engine{}).Apply(&o, status, "", ActorAdmin, at); err != nil {
			log.Warn().Err(err).Str("order_number", o.OrderNumber).Stringer("status", status).Msg("seed: failed to apply seeded status, keeping pending")
		}
		if status == StatusShipped || status == StatusOutForDelivery || status == StatusDelivered {
			o.ShippingInfo = &ShippingInfo{
				Courier:        f.RandomString([]string{"UPS", "FedEx", "DHL", "USPS"}),
				TrackingNumber: f.LetterN(2) + f.DigitN(10),
			}
		}
	}
	switch status {
	case StatusPending:
		o.PaymentStatus = PaymentPending
	case StatusRefunded:
		o.PaymentStatus = PaymentRefunded
	}
	return o
}

func (s *Seeder) orderNumber(at time.Time) string {
	return fmt.Sprintf("ORD-%06d-%s", at.UnixMilli()%1_000_000, s.faker.DigitN(3))
}
