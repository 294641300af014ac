package order

import (
	"errors"
	"fmt"
	"time"
)

var ErrValidation = errors.New("validation failed")

// ShippingInfoPatch merges into an order's shipping info; nil fields are left alone.
type ShippingInfoPatch struct {
	Courier           *string    `json:"courier,omitempty"`
	TrackingNumber    *string    `json:"trackingNumber,omitempty"`
	TrackingURL       *string    `json:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `json:"actualDelivery,omitempty"`
}

func (p *ShippingInfoPatch) apply(si *ShippingInfo) {
	if p.Courier != nil {
		si.Courier = *p.Courier
	}
	if p.TrackingNumber != nil {
		si.TrackingNumber = *p.TrackingNumber
	}
	if p.TrackingURL != nil {
		si.TrackingURL = *p.TrackingURL
	}
	if p.EstimatedDelivery != nil {
		si.EstimatedDelivery = cloneTime(p.EstimatedDelivery)
	}
	if p.ActualDelivery != nil {
		si.ActualDelivery = cloneTime(p.ActualDelivery)
	}
}

// OrderPatch is a shallow merge: only non-nil fields change. Identity,
// createdAt and customerNotes cannot be patched.
type OrderPatch struct {
	Customer        *Customer          `json:"customer,omitempty"`
	Items           []LineItem         `json:"items,omitempty"`
	Subtotal        *float64           `json:"subtotal,omitempty"`
	ShippingCost    *float64           `json:"shippingCost,omitempty"`
	TaxAmount       *float64           `json:"taxAmount,omitempty"`
	DiscountAmount  *float64           `json:"discountAmount,omitempty"`
	TotalAmount     *float64           `json:"totalAmount,omitempty"`
	Status          *OrderStatus       `json:"status,omitempty"`
	StatusNote      string             `json:"statusNote,omitempty"`
	PaymentStatus   *PaymentStatus     `json:"paymentStatus,omitempty"`
	PaymentMethod   *string            `json:"paymentMethod,omitempty"`
	ShippingAddress *Address           `json:"shippingAddress,omitempty"`
	BillingAddress  *Address           `json:"billingAddress,omitempty"`
	ShippingInfo    *ShippingInfoPatch `json:"shippingInfo,omitempty"`
	AdminNotes      *string            `json:"adminNotes,omitempty"`
	AppendAdminNote *string            `json:"appendAdminNote,omitempty"`
	Priority        *Priority          `json:"priority,omitempty"`
	Source          *Source            `json:"source,omitempty"`

	// UpdatedBy is the actor recorded in history when Status is set.
	UpdatedBy string `json:"-"`
	// SkipUnchangedStatus ignores Status when it equals the order's current status.
	SkipUnchangedStatus bool `json:"-"`
}

func (p *OrderPatch) amountsChanged() bool {
	return p.Items != nil || p.Subtotal != nil || p.ShippingCost != nil || p.TaxAmount != nil || p.DiscountAmount != nil
}

func (p *OrderPatch) validate() error {
	amounts := []struct {
		name string
		v    *float64
	}{
		{"subtotal", p.Subtotal},
		{"shippingCost", p.ShippingCost},
		{"taxAmount", p.TaxAmount},
		{"discountAmount", p.DiscountAmount},
		{"totalAmount", p.TotalAmount},
	}
	for _, a := range amounts {
		if a.v != nil && *a.v < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %f", ErrValidation, a.name, *a.v)
		}
	}
	if p.Items != nil && len(p.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for i, item := range p.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item[%d] quantity must be greater than zero", ErrValidation, i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item[%d] unit price cannot be negative", ErrValidation, i)
		}
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrValidation, *p.PaymentStatus)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, *p.Priority)
	}
	if p.Source != nil && !p.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrValidation, *p.Source)
	}
	return nil
}

// Apply merges p into o. A supplied status always goes through the engine.
// On error o may be partially modified; callers apply patches to copies.
func (p *OrderPatch) Apply(o *Order, engine *Engine, now time.Time) error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.Status != nil && !(p.SkipUnchangedStatus && *p.Status == o.Status) {
		if err := engine.Apply(o, *p.Status, p.StatusNote, p.UpdatedBy, now); err != nil {
			return err
		}
	}

	if p.Customer != nil {
		o.Customer = *p.Customer
	}
	if p.Items != nil {
		o.Items = append([]LineItem(nil), p.Items...)
		if p.Subtotal == nil {
			o.Subtotal = o.ItemsSubtotal()
		}
	}
	if p.Subtotal != nil {
		o.Subtotal = roundMoney(*p.Subtotal)
	}
	if p.ShippingCost != nil {
		o.ShippingCost = roundMoney(*p.ShippingCost)
	}
	if p.TaxAmount != nil {
		o.TaxAmount = roundMoney(*p.TaxAmount)
	}
	if p.DiscountAmount != nil {
		o.DiscountAmount = roundMoney(*p.DiscountAmount)
	}
	switch {
	case p.amountsChanged():
		o.TotalAmount = o.ComputedTotal()
	case p.TotalAmount != nil:
		// Legacy records may carry a total that was never derived here.
		o.TotalAmount = roundMoney(*p.TotalAmount)
	}

	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentMethod != nil {
		o.PaymentMethod = *p.PaymentMethod
	}
	if p.ShippingAddress != nil {
		o.ShippingAddress = *p.ShippingAddress
	}
	if p.BillingAddress != nil {
		o.BillingAddress = *p.BillingAddress
	}
	if p.ShippingInfo != nil {
		if o.ShippingInfo == nil {
			o.ShippingInfo = &ShippingInfo{}
		}
		p.ShippingInfo.apply(o.ShippingInfo)
	}
	if p.AdminNotes != nil {
		o.AdminNotes = *p.AdminNotes
	}
	if p.AppendAdminNote != nil && *p.AppendAdminNote != "" {
		if o.AdminNotes != "" {
			o.AdminNotes += "\n"
		}
		o.AdminNotes += *p.AppendAdminNote
	}
	if p.Priority != nil {
		o.Priority = *p.Priority
	}
	if p.Source != nil {
		o.Source = *p.Source
	}

	o.UpdatedAt = now
	return nil
}
