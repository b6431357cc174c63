// Package events carries order notifications from the order workflow to the
// notification sink over RabbitMQ.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrMalformedMessage is returned when a delivery body is not a notification
	ErrMalformedMessage = errors.New("malformed message")

	// ErrTransportUnavailable is returned when the broker cannot be reached
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrPublisherClosed is returned for publishes after Close
	ErrPublisherClosed = errors.New("publisher closed")
)

// typePattern restricts notification types to tokens safe inside a file name
var typePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Notification types
const (
	TypeEmail = "email"
	TypeSMS   = "sms"
)

// Notification is the message body published for every order event
type Notification struct {
	Type      string    `json:"type"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	OrderID   uint      `json:"orderId"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmations builds the email and sms notifications sent for a new order
func OrderConfirmations(orderID uint, email, phone string, at time.Time) []Notification {
	return []Notification{
		{
			Type:      TypeEmail,
			Recipient: email,
			Subject:   fmt.Sprintf("Order Confirmation - Order #%d", orderID),
			Content:   fmt.Sprintf("Thank you for your order! Your order #%d has been received and is being processed.", orderID),
			OrderID:   orderID,
			Timestamp: at,
		},
		{
			Type:      TypeSMS,
			Recipient: phone,
			Subject:   "Order Confirmation",
			Content:   fmt.Sprintf("Your order #%d has been received. Thank you for shopping with us!", orderID),
			OrderID:   orderID,
			Timestamp: at,
		},
	}
}

// DecodeNotification parses a delivery body. A body that is not a JSON object,
// lacks a type or carries a type outside [a-z0-9_-] yields ErrMalformedMessage.
func DecodeNotification(body []byte) (Notification, error) {
	var n *Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, pkgerrors.Wrap(ErrMalformedMessage, err.Error())
	}
	if n == nil {
		return Notification{}, pkgerrors.Wrap(ErrMalformedMessage, "empty notification")
	}
	if n.Type == "" {
		return Notification{}, pkgerrors.Wrap(ErrMalformedMessage, "notification type is missing")
	}
	if !typePattern.MatchString(n.Type) {
		return Notification{}, pkgerrors.Wrapf(ErrMalformedMessage, "invalid notification type %q", n.Type)
	}
	return *n, nil
}
