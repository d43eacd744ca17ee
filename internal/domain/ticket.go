package domain

import (
	"fmt"
	"strings"
)

// FlightLeg is one departure/arrival pair of a booking. Missing legs are kept as empty
// strings rather than absent values.
type FlightLeg struct {
	Departure     string `json:"dep"`
	DepartureDate string `json:"dep_date"`
	DepartureTime string `json:"dep_time"`
	Arrival       string `json:"arr"`
	ArrivalDate   string `json:"arr_date"`
	ArrivalTime   string `json:"arr_time"`
}

func (l FlightLeg) IsEmpty() bool {
	return strings.TrimSpace(l.Departure) == ""
}

// TicketRecord is one parsed spreadsheet row.
type TicketRecord struct {
	No           string    `json:"no"`
	Confirmation string    `json:"rsvn_cfmd"`
	TicketType   string    `json:"ticket_type"`
	PaxName      string    `json:"pax_name"`
	EMD1         string    `json:"emd1"`
	PNR          string    `json:"pnr"`
	TravelAgency string    `json:"travel_agency"`
	Outbound     FlightLeg `json:"ptn1"`
	Return       FlightLeg `json:"ptn2"`
}

func (r TicketRecord) IsRoundTrip() bool {
	return !r.Return.IsEmpty()
}

func (r TicketRecord) Descriptor() PassengerDescriptor {
	return PassengerDescriptor{
		PaxName:    r.PaxName,
		PNR:        r.PNR,
		TicketType: r.TicketType,
	}
}

func (r TicketRecord) Validate() error {
	if strings.TrimSpace(r.PaxName) == "" {
		return fmt.Errorf("%w: row %s: passenger name is required", ErrValidation, r.No)
	}
	if strings.TrimSpace(r.PNR) == "" {
		return fmt.Errorf("%w: row %s: PNR reference is required", ErrValidation, r.No)
	}
	if r.Outbound.IsEmpty() {
		return fmt.Errorf("%w: row %s: outbound departure is required", ErrValidation, r.No)
	}
	return nil
}

// PassengerRef names a passenger entry inside a batch.
type PassengerRef struct {
	PaxName string
	PNR     string
}
