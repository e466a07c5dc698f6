// Package normalizer decodes raw push payloads into canonical events.
package normalizer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// ErrUnknownEvent is returned as-is for event names outside Names()
var ErrUnknownEvent = errors.Normalization.Explain("unknown event")

var validate = validator.New()

// Normalize maps one raw push to its canonical event. now stamps arrival
// time and fills timestamps the payload leaves out.
func Normalize(name string, raw json.RawMessage, now time.Time) (Event, error) {
	switch name {
	case EventNewOrder:
		return normalizeOrder(name, models.OrderKindRehearsal, raw, now)
	case EventNewStagedOrder:
		return normalizeOrder(name, models.OrderKindStaged, raw, now)
	case EventOrderStatusUpdate:
		return normalizeStatus(raw, now)
	case EventPaymentConfirmed:
		return normalizePayment(raw, now)
	case EventDeliveryAssigned:
		return normalizeDelivery(raw, now)
	case EventRehearsalCheckoutRequest:
		return normalizeCheckout(models.CheckoutStageRehearsal, raw, now)
	case EventFinalCheckoutRequest:
		return normalizeCheckout(models.CheckoutStageFinal, raw, now)
	default:
		return nil, ErrUnknownEvent
	}
}

type rawOrder struct {
	OrderID     string           `json:"orderId"`
	ID          string           `json:"_id"`
	Address     string           `json:"address"`
	Items       []rawItem        `json:"items"`
	Customer    json.RawMessage  `json:"customer"`
	TotalAmount *decimal.Decimal `json:"totalAmount"`
}

type rawItem struct {
	ProductID json.RawMessage  `json:"productId"`
	Product   json.RawMessage  `json:"product"`
	ShopName  string           `json:"shopName"`
	Name      string           `json:"name"`
	Price     *decimal.Decimal `json:"price"`
	Quantity  *float64         `json:"quantity"`
}

type rawProduct struct {
	ID     string           `json:"_id"`
	AltID  string           `json:"id"`
	Name   string           `json:"name"`
	Price  *decimal.Decimal `json:"price"`
	ShopID json.RawMessage  `json:"shopId"`
}

type rawCustomer struct {
	ID    string `json:"_id"`
	AltID string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func normalizeOrder(name string, kind models.OrderKind, raw json.RawMessage, now time.Time) (Event, error) {
	var in rawOrder
	if err := decode(raw, &in); err != nil {
		return nil, errors.Normalization.Explain("decode %s", name).Wrap(err)
	}

	order := models.IncomingOrderEvent{
		OrderID:     firstNonEmpty(in.OrderID, in.ID),
		Kind:        kind,
		Address:     in.Address,
		Items:       make([]models.OrderItem, 0, len(in.Items)),
		Customer:    parseCustomer(in.Customer),
		TotalAmount: in.TotalAmount,
		ReceivedAt:  now,
	}
	for i, it := range in.Items {
		item, err := normalizeItem(it)
		if err != nil {
			return nil, errors.Normalization.Explain("%s item %d: %s", name, i, err.Error())
		}
		order.Items = append(order.Items, item)
	}

	if err := check(order); err != nil {
		return nil, err
	}
	return IncomingOrder{Order: order}, nil
}

// normalizeItem resolves productId from the flat field first, then from a
// nested product reference. Name, price and shop fall back the same way.
func normalizeItem(in rawItem) (models.OrderItem, error) {
	item := models.OrderItem{
		ShopName: in.ShopName,
		Name:     in.Name,
		Price:    decimal.Zero,
		Quantity: 1,
	}

	var nested *rawProduct
	if id, ok := asString(in.ProductID); ok {
		item.ProductID = id
	} else if p, ok := asProduct(in.ProductID); ok {
		nested = p
	}
	if nested == nil {
		if p, ok := asProduct(in.Product); ok {
			nested = p
		}
	}
	if nested != nil {
		item.ProductID = firstNonEmpty(item.ProductID, nested.ID, nested.AltID)
		item.Name = firstNonEmpty(item.Name, nested.Name)
		if item.ShopName == "" {
			item.ShopName = shopName(nested.ShopID)
		}
	}

	switch {
	case in.Price != nil:
		item.Price = *in.Price
	case nested != nil && nested.Price != nil:
		item.Price = *nested.Price
	}

	if in.Quantity != nil {
		q := *in.Quantity
		if q < 0 {
			return models.OrderItem{}, errors.Normalization.Explain("negative quantity %v", q)
		}
		if q != math.Trunc(q) || q > math.MaxInt32 {
			return models.OrderItem{}, errors.Normalization.Explain("quantity %v is not a whole number", q)
		}
		item.Quantity = int(q)
	}
	return item, nil
}

type rawStatus struct {
	OrderID   string          `json:"orderId"`
	ID        string          `json:"_id"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func normalizeStatus(raw json.RawMessage, now time.Time) (Event, error) {
	var in rawStatus
	if err := decode(raw, &in); err != nil {
		return nil, errors.Normalization.Explain("decode %s", EventOrderStatusUpdate).Wrap(err)
	}
	update := models.StatusUpdateEvent{
		OrderID:   firstNonEmpty(in.OrderID, in.ID),
		Status:    strings.TrimSpace(in.Status),
		Reason:    in.Reason,
		Timestamp: parseTimestamp(in.Timestamp, now),
	}
	if err := check(update); err != nil {
		return nil, err
	}
	return StatusUpdate{Update: update}, nil
}

type rawPayment struct {
	OrderID   string           `json:"orderId"`
	Amount    *decimal.Decimal `json:"amount"`
	Timestamp json.RawMessage  `json:"timestamp"`
}

func normalizePayment(raw json.RawMessage, now time.Time) (Event, error) {
	var in rawPayment
	if err := decode(raw, &in); err != nil {
		return nil, errors.Normalization.Explain("decode %s", EventPaymentConfirmed).Wrap(err)
	}
	payment := models.PaymentConfirmedEvent{
		OrderID:   in.OrderID,
		Amount:    decimal.Zero,
		Timestamp: parseTimestamp(in.Timestamp, now),
	}
	if in.Amount != nil {
		payment.Amount = *in.Amount
	}
	return PaymentConfirmed{Payment: payment}, nil
}

type rawDelivery struct {
	OrderID         string `json:"orderId"`
	DeliveryPartner *struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"deliveryPartner"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func normalizeDelivery(raw json.RawMessage, now time.Time) (Event, error) {
	var in rawDelivery
	if err := decode(raw, &in); err != nil {
		return nil, errors.Normalization.Explain("decode %s", EventDeliveryAssigned).Wrap(err)
	}
	delivery := models.DeliveryAssignedEvent{
		OrderID:   in.OrderID,
		Timestamp: parseTimestamp(in.Timestamp, now),
	}
	if in.DeliveryPartner != nil {
		delivery.PartnerName = in.DeliveryPartner.Name
		delivery.PartnerPhone = in.DeliveryPartner.Phone
	}
	return DeliveryAssigned{Delivery: delivery}, nil
}

type rawCheckout struct {
	OrderID   string            `json:"orderId"`
	Items     []json.RawMessage `json:"items"`
	Timestamp json.RawMessage   `json:"timestamp"`
}

func normalizeCheckout(stage models.CheckoutStage, raw json.RawMessage, now time.Time) (Event, error) {
	var in rawCheckout
	if err := decode(raw, &in); err != nil {
		return nil, errors.Normalization.Explain("decode %s checkout request", stage).Wrap(err)
	}
	return CheckoutRequest{Checkout: models.CheckoutRequestEvent{
		Stage:     stage,
		OrderID:   in.OrderID,
		ItemCount: len(in.Items),
		Timestamp: parseTimestamp(in.Timestamp, now),
	}}, nil
}

func decode(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.Normalization.Explain("empty payload")
	}
	return json.Unmarshal(raw, v)
}

func check(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	out := errors.Normalization.Explain("payload failed validation")
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			out = out.WithField(fe.Tag(), fe.Namespace(), fe.Error())
		}
		return out
	}
	return out.Wrap(err)
}

func asString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil || s == "" {
		return "", false
	}
	return s, true
}

func asProduct(raw json.RawMessage) (*rawProduct, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var p rawProduct
	if json.Unmarshal(raw, &p) != nil {
		return nil, false
	}
	return &p, true
}

func shopName(raw json.RawMessage) string {
	var shop struct {
		Name string `json:"name"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &shop) != nil {
		return ""
	}
	return shop.Name
}

func parseCustomer(raw json.RawMessage) *models.Customer {
	if id, ok := asString(raw); ok {
		return &models.Customer{ID: id}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var c rawCustomer
	if json.Unmarshal(raw, &c) != nil {
		return nil
	}
	return &models.Customer{ID: firstNonEmpty(c.ID, c.AltID), Name: c.Name, Phone: c.Phone}
}

// parseTimestamp accepts unix milliseconds or an RFC 3339 string
func parseTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fallback
	}
	if s, ok := asString(raw); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
		return fallback
	}
	var ms float64
	if json.Unmarshal(raw, &ms) == nil && ms > 0 {
		return time.UnixMilli(int64(ms))
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
