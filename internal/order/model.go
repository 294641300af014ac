package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusProcessing     OrderStatus = "processing"
	StatusPacked         OrderStatus = "packed"
	StatusShipped        OrderStatus = "shipped"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusReturned       OrderStatus = "returned"
	StatusRefunded       OrderStatus = "refunded"
)

// AllStatuses lists every order status in pipeline order.
var AllStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusPacked,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
	StatusReturned,
	StatusRefunded,
}

func (os OrderStatus) String() string {
	return string(os)
}

func (os OrderStatus) Valid() bool {
	for _, s := range AllStatuses {
		if s == os {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentPartialRefund PaymentStatus = "partial_refund"
)

func (ps PaymentStatus) Valid() bool {
	switch ps {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded, PaymentPartialRefund:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Source string

const (
	SourceWebsite   Source = "website"
	SourceMobileApp Source = "mobile_app"
	SourcePhone     Source = "phone"
	SourceAdmin     Source = "admin"
)

func (s Source) Valid() bool {
	switch s {
	case SourceWebsite, SourceMobileApp, SourcePhone, SourceAdmin:
		return true
	}
	return false
}

// Actors recorded in status history when no admin user is known.
const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
)

// Customer is a copy of the buyer's contact details taken when the order was placed.
type Customer struct {
	ID          string `json:"id"`
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName" validate:"required"`
	Phone       string `json:"phone,omitempty"`
}

type LineItem struct {
	ProductID string  `json:"productId" validate:"required"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Size      string  `json:"size,omitempty"`
	Color     string  `json:"color,omitempty"`
}

func (li LineItem) LineTotal() float64 {
	return roundMoney(li.UnitPrice * float64(li.Quantity))
}

type Address struct {
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}

type ShippingInfo struct {
	Courier           string     `json:"courier,omitempty"`
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	TrackingURL       string     `json:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `json:"actualDelivery,omitempty"`
}

type StatusHistoryEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	UpdatedBy string      `json:"updatedBy"`
	Note      string      `json:"note,omitempty"`
}

type Order struct {
	ID              uuid.UUID            `json:"id"`
	OrderNumber     string               `json:"orderNumber"`
	Customer        Customer             `json:"customer"`
	Items           []LineItem           `json:"items"`
	Subtotal        float64              `json:"subtotal"`
	ShippingCost    float64              `json:"shippingCost"`
	TaxAmount       float64              `json:"taxAmount"`
	DiscountAmount  float64              `json:"discountAmount"`
	TotalAmount     float64              `json:"totalAmount"`
	Status          OrderStatus          `json:"status"`
	PaymentStatus   PaymentStatus        `json:"paymentStatus"`
	PaymentMethod   string               `json:"paymentMethod,omitempty"`
	StatusHistory   []StatusHistoryEntry `json:"statusHistory"`
	ShippingAddress Address              `json:"shippingAddress"`
	BillingAddress  Address              `json:"billingAddress"`
	ShippingInfo    *ShippingInfo        `json:"shippingInfo,omitempty"`
	AdminNotes      string               `json:"adminNotes,omitempty"`
	CustomerNotes   string               `json:"customerNotes,omitempty"`
	Priority        Priority             `json:"priority"`
	Source          Source               `json:"source"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
	ConfirmedAt     *time.Time           `json:"confirmedAt,omitempty"`
	ShippedAt       *time.Time           `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time           `json:"deliveredAt,omitempty"`
}

// ItemsSubtotal sums the line totals of the order's items.
func (o *Order) ItemsSubtotal() float64 {
	return sumMoney(len(o.Items), func(i int) float64 { return o.Items[i].LineTotal() })
}

// ComputedTotal derives the total from subtotal, shipping, tax and discount.
func (o *Order) ComputedTotal() float64 {
	return orderTotal(o.Subtotal, o.ShippingCost, o.TaxAmount, o.DiscountAmount)
}

// Clone returns a deep copy; the store never hands out references to its own records.
func (o *Order) Clone() Order {
	c := *o
	if o.Items != nil {
		c.Items = append([]LineItem(nil), o.Items...)
	}
	if o.StatusHistory != nil {
		c.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	}
	if o.ShippingInfo != nil {
		si := *o.ShippingInfo
		si.EstimatedDelivery = cloneTime(o.ShippingInfo.EstimatedDelivery)
		si.ActualDelivery = cloneTime(o.ShippingInfo.ActualDelivery)
		c.ShippingInfo = &si
	}
	c.ConfirmedAt = cloneTime(o.ConfirmedAt)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneOrders(orders []Order) []Order {
	out := make([]Order, len(orders))
	for i := range orders {
		out[i] = orders[i].Clone()
	}
	return out
}
