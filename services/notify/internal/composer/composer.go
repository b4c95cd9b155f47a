// Package composer renders the booking confirmation email. It is a pure
// function of the booking snapshot: no I/O and no failure path.
package composer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

const (
	DefaultUserName = "Customer"
	DefaultCarName  = "your car"
	NotApplicable   = "N/A"

	dateLayout = "Jan 02, 2006"
)

// Message is the rendered confirmation.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type Composer struct {
	currency string
	brand    string
	location *time.Location
}

func New(currencySymbol, brandName string) *Composer {
	if brandName == "" {
		brandName = "Car Rental App"
	}
	return &Composer{
		currency: currencySymbol,
		brand:    brandName,
		location: time.UTC,
	}
}

type view struct {
	BookingID   string
	PaymentID   string
	UserName    string
	CarName     string
	BookingDate string
	StartDate   string
	EndDate     string
	Pickup      string
	Dropoff     string
	Total       string
	Brand       string
}

func (c *Composer) Compose(b domain.Booking) Message {
	v := view{
		BookingID:   b.ID,
		PaymentID:   orDefault(b.PaymentID, NotApplicable),
		UserName:    orDefault(b.UserName, DefaultUserName),
		CarName:     orDefault(b.CarName, DefaultCarName),
		BookingDate: c.formatDate(b.BookingDate, b.HasBookingDate),
		StartDate:   c.formatDate(b.StartDate, b.HasStartDate),
		EndDate:     c.formatDate(b.EndDate, b.HasEndDate),
		Pickup:      orDefault(b.PickupLocation, NotApplicable),
		Dropoff:     orDefault(b.DropoffLocation, NotApplicable),
		Total:       c.formatAmount(b.TotalPrice, b.HasTotalPrice),
		Brand:       c.brand,
	}

	return Message{
		Subject: "Booking Confirmed: " + v.CarName,
		Text:    render(textTmpl, v),
		HTML:    render(htmlTmpl, v),
	}
}

func (c *Composer) formatDate(t time.Time, ok bool) string {
	if !ok || t.IsZero() {
		return NotApplicable
	}
	return t.In(c.location).Format(dateLayout)
}

func (c *Composer) formatAmount(amount float64, ok bool) string {
	if !ok {
		return NotApplicable
	}
	return fmt.Sprintf("%s%.2f", c.currency, amount)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

type renderer interface {
	Execute(w io.Writer, data any) error
}

func render(t renderer, v view) string {
	var sb strings.Builder
	// Static templates over string-only data cannot fail to execute.
	_ = t.Execute(&sb, v)
	return sb.String()
}
