package domain

import (
	"errors"
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingCompleted BookingStatus = "completed"
	BookingCanceled  BookingStatus = "cancelled"
)

// Document field names. Business fields belong to the upstream booking writer;
// the email* fields are written only by the confirmation coordinator.
const (
	FieldStatus          = "status"
	FieldIsPaid          = "isPaid"
	FieldUserID          = "userId"
	FieldUserEmail       = "userEmail"
	FieldUserName        = "userName"
	FieldCarName         = "carName"
	FieldBookingDate     = "bookingDate"
	FieldCreatedAt       = "createdAt"
	FieldStartDate       = "startDate"
	FieldEndDate         = "endDate"
	FieldPickupLocation  = "pickupLocation"
	FieldDropoffLocation = "dropoffLocation"
	FieldTotalPrice      = "totalPrice"
	FieldPaymentID       = "paymentId"

	FieldEmailSendState       = "emailSendState"
	FieldEmailSent            = "emailSent"
	FieldEmailSendAttemptedAt = "emailSendAttemptedAt"
	FieldEmailSentAt          = "emailSentAt"
	FieldEmailMessageID       = "emailMessageId"
	FieldEmailSendError       = "emailSendError"
)

// ControlFields are the fields written by the confirmation coordinator.
var ControlFields = []string{
	FieldEmailSendState,
	FieldEmailSent,
	FieldEmailSendAttemptedAt,
	FieldEmailSentAt,
	FieldEmailMessageID,
	FieldEmailSendError,
}

// IsControlField reports whether a field path, possibly dotted, lies inside a
// control field.
func IsControlField(path string) bool {
	top, _, _ := strings.Cut(path, ".")
	for _, f := range ControlFields {
		if top == f {
			return true
		}
	}
	return false
}

var (
	ErrNotFound     = errors.New("booking not found")
	ErrAlreadySent  = errors.New("confirmation already sent")
	ErrNoRecipient  = errors.New("no recipient email found")
	ErrUserNotFound = errors.New("user not found")
)

// Booking is the typed view of a booking document.
type Booking struct {
	ID        string
	Status    BookingStatus
	IsPaid    bool
	UserID    string
	UserEmail string
	UserName  string
	CarName   string
	PaymentID string

	BookingDate     time.Time
	HasBookingDate  bool
	StartDate       time.Time
	HasStartDate    bool
	EndDate         time.Time
	HasEndDate      bool
	PickupLocation  string
	DropoffLocation string
	TotalPrice      float64
	HasTotalPrice   bool

	Email EmailControl
}

// EmailControl holds the notification-control fields of a booking.
type EmailControl struct {
	State          SendState
	Sent           bool
	AttemptedAt    time.Time
	HasAttemptedAt bool
	SentAt         time.Time
	MessageID      string
	Error          string
}

// BookingFromSnapshot reads a booking from a raw document. Missing or
// mistyped fields become their zero value.
func BookingFromSnapshot(id string, s Snapshot) Booking {
	b := Booking{
		ID:              id,
		Status:          BookingStatus(s.String(FieldStatus)),
		IsPaid:          s.Bool(FieldIsPaid),
		UserID:          s.String(FieldUserID),
		UserEmail:       s.String(FieldUserEmail),
		UserName:        s.String(FieldUserName),
		CarName:         s.String(FieldCarName),
		PaymentID:       s.String(FieldPaymentID),
		PickupLocation:  s.String(FieldPickupLocation),
		DropoffLocation: s.String(FieldDropoffLocation),
	}

	b.BookingDate, b.HasBookingDate = s.Time(FieldBookingDate)
	if !b.HasBookingDate {
		b.BookingDate, b.HasBookingDate = s.Time(FieldCreatedAt)
	}
	b.StartDate, b.HasStartDate = s.Time(FieldStartDate)
	b.EndDate, b.HasEndDate = s.Time(FieldEndDate)
	b.TotalPrice, b.HasTotalPrice = s.Number(FieldTotalPrice)

	b.Email = EmailControl{
		State:     SendState(s.String(FieldEmailSendState)),
		Sent:      s.Bool(FieldEmailSent),
		MessageID: s.String(FieldEmailMessageID),
		Error:     s.String(FieldEmailSendError),
	}
	b.Email.AttemptedAt, b.Email.HasAttemptedAt = s.Time(FieldEmailSendAttemptedAt)
	b.Email.SentAt, _ = s.Time(FieldEmailSentAt)

	return b
}

// ChangeEvent is one mutation notification for a booking document. Before and
// After are nil when the document did not exist on that side of the write.
type ChangeEvent struct {
	ID        string
	BookingID string
	Before    Snapshot
	After     Snapshot
}
