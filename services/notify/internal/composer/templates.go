package composer

import (
	htmltemplate "html/template"
	"text/template"
)

var textTmpl = template.Must(template.New("confirmation.txt").Parse(`Hi {{.UserName}},

Your payment was successful and your booking is confirmed.

Booking ID: {{.BookingID}}
Payment ID: {{.PaymentID}}
Car: {{.CarName}}
Booking Date: {{.BookingDate}}
Rental Period: {{.StartDate}} to {{.EndDate}}
Pickup: {{.Pickup}}
Drop-off: {{.Dropoff}}
Total Paid: {{.Total}}

Thank you for choosing our {{.Brand}}.
`))

// html/template escapes every interpolated value for the text context.
var htmlTmpl = htmltemplate.Must(htmltemplate.New("confirmation.html").Parse(`<div style="font-family: Arial, sans-serif; line-height: 1.5;">
  <h2>Payment Successful — Booking Confirmed</h2>
  <p>Hi <b>{{.UserName}}</b>,</p>
  <p>Your payment was successful and your booking is confirmed.</p>
  <ul>
    <li><b>Booking ID:</b> {{.BookingID}}</li>
    <li><b>Payment ID:</b> {{.PaymentID}}</li>
    <li><b>Car:</b> {{.CarName}}</li>
    <li><b>Booking Date:</b> {{.BookingDate}}</li>
    <li><b>Rental Period:</b> {{.StartDate}} to {{.EndDate}}</li>
    <li><b>Pickup:</b> {{.Pickup}}</li>
    <li><b>Drop-off:</b> {{.Dropoff}}</li>
    <li><b>Total Paid:</b> {{.Total}}</li>
  </ul>
  <p>Thank you for choosing our {{.Brand}}.</p>
</div>
`))
