package render

import (
	"strings"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

const (
	defaultTicketNumber = "0000000000"
	defaultEMD          = "0"
	dateNowLayout       = "2006-01-02"
)

// Fields maps a template placeholder such as "{{PAX_name}}" to its replacement text.
type Fields map[string]string

// TicketData is everything a single rendered ticket needs.
type TicketData struct {
	Record       domain.TicketRecord
	Agency       *domain.Agency
	TicketNumber string
	Date         time.Time
}

func placeholder(name string) string {
	return "{{" + name + "}}"
}

// BuildFields fills the placeholder set used by the ticket templates. A record without a
// return leg clears every PTN2 placeholder. Without a directory match the raw agency text is
// shown and the contact placeholders are blank.
func BuildFields(data TicketData, airports AirportLookup) Fields {
	if airports == nil {
		airports = DefaultAirports()
	}

	rec := data.Record
	fields := Fields{
		placeholder("date_now"):      data.Date.Format(dateNowLayout),
		placeholder("PAX_name"):      rec.PaxName,
		placeholder("PNR_Reference"): rec.PNR,
		placeholder("Ticket_Number"): orDefault(data.TicketNumber, defaultTicketNumber),
		placeholder("EMD1"):          orDefault(rec.EMD1, defaultEMD),
		placeholder("Ticket_Type"):   rec.TicketType,
	}

	addLeg(fields, "PTN1", rec.Outbound, airports)
	if rec.IsRoundTrip() {
		addLeg(fields, "PTN2", rec.Return, airports)
	} else {
		addLeg(fields, "PTN2", domain.FlightLeg{}, airports)
	}

	if a := data.Agency; a != nil {
		fields[placeholder("agency_name")] = a.Name
		fields[placeholder("agency_owner")] = a.Owner
		fields[placeholder("agency_address")] = a.Address
		fields[placeholder("agency_email")] = a.Email
		fields[placeholder("agency_phone")] = a.Telephone
	} else {
		fields[placeholder("agency_name")] = rec.TravelAgency
		fields[placeholder("agency_owner")] = ""
		fields[placeholder("agency_address")] = ""
		fields[placeholder("agency_email")] = ""
		fields[placeholder("agency_phone")] = ""
	}

	return fields
}

func addLeg(fields Fields, prefix string, leg domain.FlightLeg, airports AirportLookup) {
	depCity, depAirport := airports.Lookup(leg.Departure)
	arrCity, arrAirport := airports.Lookup(leg.Arrival)

	fields[placeholder(prefix+"-Dep")] = leg.Departure
	fields[placeholder(prefix+"-Arr")] = leg.Arrival
	fields[placeholder(prefix+"_Date")] = leg.DepartureDate
	fields[placeholder(prefix+"_Time")] = leg.DepartureTime
	fields[placeholder(prefix+"_Date.1")] = leg.ArrivalDate
	fields[placeholder(prefix+"_Time.1")] = leg.ArrivalTime
	fields[placeholder(prefix+"-Dep-City")] = depCity
	fields[placeholder(prefix+"-Dep-Airport")] = depAirport
	fields[placeholder(prefix+"-Arr-City")] = arrCity
	fields[placeholder(prefix+"-Arr-Airport")] = arrAirport
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (f Fields) replacer() *strings.Replacer {
	pairs := make([]string, 0, 2*len(f))
	for k, v := range f {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...)
}
