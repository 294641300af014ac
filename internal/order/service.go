package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// OrderDraft is what checkout or an admin submits to place an order.
type OrderDraft struct {
	OrderNumber     string        `json:"orderNumber,omitempty"`
	Customer        *Customer     `json:"customer" validate:"required"`
	Items           []LineItem    `json:"items" validate:"required,min=1,dive"`
	ShippingCost    *float64      `json:"shippingCost,omitempty" validate:"omitempty,gte=0"`
	TaxAmount       *float64      `json:"taxAmount,omitempty" validate:"omitempty,gte=0"`
	DiscountAmount  float64       `json:"discountAmount,omitempty" validate:"gte=0"`
	PaymentStatus   PaymentStatus `json:"paymentStatus,omitempty" validate:"omitempty,oneof=pending paid failed refunded partial_refund"`
	PaymentMethod   string        `json:"paymentMethod,omitempty"`
	ShippingAddress Address       `json:"shippingAddress"`
	BillingAddress  *Address      `json:"billingAddress,omitempty"`
	CustomerNotes   string        `json:"customerNotes,omitempty"`
	Priority        Priority      `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	Source          Source        `json:"source,omitempty" validate:"omitempty,oneof=website mobile_app phone admin"`
}

type Service interface {
	FetchOrders(ctx context.Context) ([]Order, error)
	FilterOrders(ctx context.Context, f Filter) ([]Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	CreateOrder(ctx context.Context, draft OrderDraft) (*Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, patch OrderPatch) (*Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus, note, actor string) (*Order, error)
	BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, status OrderStatus, actor string) ([]Order, error)
	AddAdminNote(ctx context.Context, id uuid.UUID, note string) (*Order, error)
	UpdateShippingInfo(ctx context.Context, id uuid.UUID, info ShippingInfoPatch) (*Order, error)
	GetOrderStats(ctx context.Context) (Stats, error)
	SubscribeToOrders(fn func(ChangeEvent)) (unsubscribe func())
}

type ServiceOption func(*service)

func WithCatalog(c Catalog) ServiceOption {
	return func(s *service) { s.catalog = c }
}

func WithToaster(t Toaster) ServiceOption {
	return func(s *service) { s.toaster = t }
}

func WithPricing(p PricingPolicy) ServiceOption {
	return func(s *service) { s.pricing = p }
}

// WithClock overrides the clock used for "today" in stats.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) { s.now = now }
}

type service struct {
	repo     Repository
	notifier Notifier
	catalog  Catalog
	toaster  Toaster
	pricing  PricingPolicy
	validate *validator.Validate
	now      func() time.Time
}

func NewService(repo Repository, notifier Notifier, opts ...ServiceOption) Service {
	s := &service{
		repo:     repo,
		notifier: notifier,
		toaster:  LogToaster{},
		pricing:  DefaultPricingPolicy(),
		validate: validator.New(),
		now:      time.Now,
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) FetchOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.LoadAll(ctx)
	if err != nil {
		if errors.Is(err, ErrPersistFailed) && orders != nil {
			s.toaster.Toast(ctx, ToastWarning, "Orders not saved", "Some changes have not been saved yet")
			return orders, err
		}
		log.Error().Err(err).Msg("service: failed to fetch orders")
		s.toaster.Toast(ctx, ToastError, "Error", "Failed to load orders")
		return nil, fmt.Errorf("service: failed to fetch orders: %w", err)
	}
	return orders, nil
}

func (s *service) FilterOrders(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	orders, err := s.FetchOrders(ctx)
	if orders == nil {
		return nil, err
	}
	return FilterOrders(orders, f), err
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return &o, nil
}

func (s *service) CreateOrder(ctx context.Context, draft OrderDraft) (*Order, error) {
	if err := s.validate.Struct(draft); err != nil {
		log.Warn().Err(err).Msg("service: rejected invalid order draft")
		s.toaster.Toast(ctx, ToastError, "Invalid order", "The order could not be created")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	items, err := s.snapshotItems(ctx, draft.Items)
	if err != nil {
		s.toaster.Toast(ctx, ToastError, "Invalid order", err.Error())
		return nil, err
	}

	o := Order{
		OrderNumber:     strings.TrimSpace(draft.OrderNumber),
		Customer:        *draft.Customer,
		Items:           items,
		DiscountAmount:  roundMoney(draft.DiscountAmount),
		Status:          StatusPending,
		PaymentStatus:   draft.PaymentStatus,
		PaymentMethod:   draft.PaymentMethod,
		ShippingAddress: draft.ShippingAddress,
		BillingAddress:  draft.ShippingAddress,
		CustomerNotes:   draft.CustomerNotes,
		Priority:        draft.Priority,
		Source:          draft.Source,
	}
	if draft.BillingAddress != nil {
		o.BillingAddress = *draft.BillingAddress
	}

	o.Subtotal = o.ItemsSubtotal()
	o.ShippingCost = s.pricing.Shipping(o.Subtotal)
	if draft.ShippingCost != nil {
		o.ShippingCost = roundMoney(*draft.ShippingCost)
	}
	o.TaxAmount = s.pricing.Tax(o.Subtotal)
	if draft.TaxAmount != nil {
		o.TaxAmount = roundMoney(*draft.TaxAmount)
	}
	o.TotalAmount = o.ComputedTotal()
	if o.TotalAmount < 0 {
		s.toaster.Toast(ctx, ToastError, "Invalid order", "Discount exceeds the order total")
		return nil, fmt.Errorf("%w: discount %.2f exceeds order total", ErrValidation, o.DiscountAmount)
	}

	created, err := s.repo.Create(ctx, o)
	if err = s.report(ctx, err, "Order created", fmt.Sprintf("Order %s has been created", created.OrderNumber), "create order"); err != nil && created.ID.IsNil() {
		return nil, err
	}

	log.Info().Stringer("order_id", created.ID).Str("order_number", created.OrderNumber).Msg("service: order created")
	return &created, err
}

// snapshotItems copies names and prices from the catalog for items that do not carry them.
func (s *service) snapshotItems(ctx context.Context, items []LineItem) ([]LineItem, error) {
	out := make([]LineItem, len(items))
	for i, item := range items {
		if item.Name == "" || item.UnitPrice == 0 {
			if s.catalog == nil {
				return nil, fmt.Errorf("%w: item[%d] has no name or price and no catalog is configured", ErrValidation, i)
			}
			p, err := s.catalog.Lookup(ctx, item.ProductID)
			if err != nil {
				return nil, fmt.Errorf("service: item[%d]: %w", i, err)
			}
			if item.Name == "" {
				item.Name = p.Name
			}
			if item.UnitPrice == 0 {
				item.UnitPrice = p.Price
			}
		}
		item.UnitPrice = roundMoney(item.UnitPrice)
		out[i] = item
	}
	return out, nil
}

func (s *service) UpdateOrder(ctx context.Context, id uuid.UUID, patch OrderPatch) (*Order, error) {
	// Echoing the current status back is not a status change.
	patch.SkipUnchangedStatus = true

	updated, err := s.repo.Patch(ctx, id, patch)
	if err = s.report(ctx, err, "Order updated", fmt.Sprintf("Order %s has been updated", updated.OrderNumber), "update order"); err != nil && updated.ID.IsNil() {
		return nil, err
	}
	return &updated, err
}

func (s *service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	err := s.repo.Delete(ctx, id)
	return s.report(ctx, err, "Order deleted", "The order has been deleted", "delete order")
}

func (s *service) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus, note, actor string) (*Order, error) {
	if !status.Valid() {
		return nil, s.report(ctx, fmt.Errorf("%w: %q", ErrInvalidStatus, status), "", "", "update order status")
	}

	updated, err := s.repo.Patch(ctx, id, OrderPatch{
		Status:     &status,
		StatusNote: note,
		UpdatedBy:  actor,
	})
	if err = s.report(ctx, err, "Status updated", fmt.Sprintf("Order %s is now %s", updated.OrderNumber, status), "update order status"); err != nil && updated.ID.IsNil() {
		return nil, err
	}

	log.Info().Stringer("order_id", id).Stringer("new_status", status).Str("actor", actor).Msg("service: order status updated")
	return &updated, err
}

func (s *service) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, status OrderStatus, actor string) ([]Order, error) {
	if len(ids) == 0 {
		return nil, s.report(ctx, fmt.Errorf("%w: no orders selected", ErrValidation), "", "", "bulk update status")
	}
	if !status.Valid() {
		return nil, s.report(ctx, fmt.Errorf("%w: %q", ErrInvalidStatus, status), "", "", "bulk update status")
	}

	updated, err := s.repo.BulkPatch(ctx, ids, OrderPatch{
		Status:     &status,
		StatusNote: BulkUpdateNote(status),
		UpdatedBy:  actor,
	})
	if err = s.report(ctx, err, "Orders updated", fmt.Sprintf("%d orders updated to %s", len(updated), status), "bulk update status"); err != nil && len(updated) == 0 {
		return nil, err
	}

	log.Info().Int("requested", len(ids)).Int("updated", len(updated)).Stringer("new_status", status).Msg("service: bulk status update")
	return updated, err
}

func (s *service) AddAdminNote(ctx context.Context, id uuid.UUID, note string) (*Order, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, s.report(ctx, fmt.Errorf("%w: note is empty", ErrValidation), "", "", "add admin note")
	}

	updated, err := s.repo.Patch(ctx, id, OrderPatch{AppendAdminNote: &note})
	if err = s.report(ctx, err, "Note added", "Admin note has been saved", "add admin note"); err != nil && updated.ID.IsNil() {
		return nil, err
	}
	return &updated, err
}

func (s *service) UpdateShippingInfo(ctx context.Context, id uuid.UUID, info ShippingInfoPatch) (*Order, error) {
	updated, err := s.repo.Patch(ctx, id, OrderPatch{ShippingInfo: &info})
	if err = s.report(ctx, err, "Shipping updated", "Shipping information has been updated", "update shipping info"); err != nil && updated.ID.IsNil() {
		return nil, err
	}
	return &updated, err
}

func (s *service) GetOrderStats(ctx context.Context) (Stats, error) {
	orders, err := s.repo.LoadAll(ctx)
	if err != nil && orders == nil {
		log.Error().Err(err).Msg("service: failed to load orders for stats")
		return Stats{}, fmt.Errorf("service: failed to compute order stats: %w", err)
	}
	return ComputeStats(orders, s.now()), err
}

func (s *service) SubscribeToOrders(fn func(ChangeEvent)) func() {
	return s.notifier.Subscribe(fn)
}

// report sends the toast for an operation's outcome and wraps unexpected errors.
// Persistence failures come back unchanged so callers can keep the result.
func (s *service) report(ctx context.Context, err error, title, message, op string) error {
	switch {
	case err == nil:
		s.toaster.Toast(ctx, ToastSuccess, title, message)
		return nil
	case errors.Is(err, ErrPersistFailed):
		log.Warn().Err(err).Str("operation", op).Msg("service: change kept in memory only")
		s.toaster.Toast(ctx, ToastWarning, "Not saved", "The change is visible but could not be saved")
		return err
	case isClientError(err):
		log.Warn().Err(err).Str("operation", op).Msg("service: request rejected")
		s.toaster.Toast(ctx, ToastError, "Error", err.Error())
		return err
	default:
		log.Error().Err(err).Str("operation", op).Msg("service: operation failed")
		s.toaster.Toast(ctx, ToastError, "Error", "Failed to "+op)
		return fmt.Errorf("service: failed to %s: %w", op, err)
	}
}

func isClientError(err error) bool {
	for _, target := range []error{
		ErrOrderNotFound,
		ErrValidation,
		ErrInvalidStatus,
		ErrInvalidStatusTransition,
		ErrStatusAlreadySet,
		ErrDuplicateOrderNumber,
		ErrDuplicateOrderID,
		ErrUnknownProduct,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
