package order_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

func ptr[T any](v T) *T { return &v }

func TestOrderPatch_Apply_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		patch order.OrderPatch
	}{
		{name: "negative shipping", patch: order.OrderPatch{ShippingCost: ptr(-1.0)}},
		{name: "negative total", patch: order.OrderPatch{TotalAmount: ptr(-0.01)}},
		{name: "empty items", patch: order.OrderPatch{Items: []order.LineItem{}}},
		{name: "zero quantity", patch: order.OrderPatch{Items: []order.LineItem{{ProductID: "p", UnitPrice: 1}}}},
		{name: "negative price", patch: order.OrderPatch{Items: []order.LineItem{{ProductID: "p", UnitPrice: -1, Quantity: 1}}}},
		{name: "unknown payment status", patch: order.OrderPatch{PaymentStatus: ptr(order.PaymentStatus("iou"))}},
		{name: "unknown priority", patch: order.OrderPatch{Priority: ptr(order.Priority("asap"))}},
		{name: "unknown source", patch: order.OrderPatch{Source: ptr(order.Source("fax"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder()
			err := tt.patch.Apply(&o, order.NewEngine(order.TransitionPermissive), t0)
			assert.ErrorIs(t, err, order.ErrValidation)
		})
	}
}

func TestOrderPatch_Apply_ShippingInfoMerges(t *testing.T) {
	o := pendingOrder()
	engine := order.NewEngine(order.TransitionPermissive)
	eta := t0.Add(48 * time.Hour)

	first := order.OrderPatch{ShippingInfo: &order.ShippingInfoPatch{Courier: ptr("DHL"), EstimatedDelivery: &eta}}
	require.NoError(t, first.Apply(&o, engine, t0))

	second := order.OrderPatch{ShippingInfo: &order.ShippingInfoPatch{TrackingNumber: ptr("JD0001")}}
	require.NoError(t, second.Apply(&o, engine, t0.Add(time.Minute)))

	require.NotNil(t, o.ShippingInfo)
	assert.Equal(t, "DHL", o.ShippingInfo.Courier)
	assert.Equal(t, "JD0001", o.ShippingInfo.TrackingNumber)
	assert.Equal(t, eta, *o.ShippingInfo.EstimatedDelivery)
	assert.Equal(t, t0.Add(time.Minute), o.UpdatedAt)

	eta = eta.Add(time.Hour)
	assert.Equal(t, t0.Add(48*time.Hour), *o.ShippingInfo.EstimatedDelivery, "patch values are copied")
}

func TestOrderPatch_Apply_ExplicitSubtotalWinsOverItems(t *testing.T) {
	o := pendingOrder()
	p := order.OrderPatch{
		Items:    []order.LineItem{{ProductID: "p", UnitPrice: 10, Quantity: 3}},
		Subtotal: ptr(25.0),
	}
	require.NoError(t, p.Apply(&o, nil, t0))
	assert.Equal(t, 25.0, o.Subtotal)
	assert.Equal(t, o.ComputedTotal(), o.TotalAmount)
}

func TestOrderPatch_Apply_SkipUnchangedStatus(t *testing.T) {
	strict := order.NewEngine(order.TransitionStrict)

	o := pendingOrder()
	same := order.OrderPatch{Status: ptr(order.StatusPending), AdminNotes: ptr("call first"), SkipUnchangedStatus: true}
	require.NoError(t, same.Apply(&o, strict, t0.Add(time.Minute)))
	assert.Len(t, o.StatusHistory, 1)
	assert.Equal(t, "call first", o.AdminNotes)

	changed := order.OrderPatch{Status: ptr(order.StatusConfirmed), SkipUnchangedStatus: true}
	require.NoError(t, changed.Apply(&o, strict, t0.Add(2*time.Minute)))
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Len(t, o.StatusHistory, 2)

	o = pendingOrder()
	plain := order.OrderPatch{Status: ptr(order.StatusPending)}
	assert.ErrorIs(t, plain.Apply(&o, strict, t0), order.ErrStatusAlreadySet)
}
