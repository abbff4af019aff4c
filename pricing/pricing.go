/*
Package pricing supplies the injected rate table for the booking allocator.

PURPOSE:
  Pricing policy lives behind a small interface so the allocator never
  hard-codes rates. The known asymmetry - a contiguous multi-hour booking is
  priced entirely from its FIRST slot's rate, even if the run crosses the
  peak boundary - is therefore isolated here: if product corrects the
  policy, only the table changes, not the allocator.

USAGE:
  table := pricing.PeakTable{
      PeakStartHour: 18, PeakEndHour: 22,
      PeakRate:    booking.NewMoney(40),
      OffPeakRate: booking.NewMoney(20),
  }
  rate := table.Rate(slot.CourtID, slot)

SEE ALSO:
  - booking/allocator.go: the only consumer of RateTable
  - config: PeakTable and FeeTable are built from configuration
*/
package pricing

import (
	"github.com/warp/booking-engine/booking"
)

// RateTable resolves the hourly rate for a slot. Implementations must be pure.
type RateTable interface {
	Rate(courtID booking.CourtID, slot booking.Slot) booking.Money
}

// PeakTable prices a slot by whether its start hour falls inside the
// configured peak window [PeakStartHour, PeakEndHour).
type PeakTable struct {
	PeakStartHour int
	PeakEndHour   int
	PeakRate      booking.Money
	OffPeakRate   booking.Money
}

func (t PeakTable) Rate(_ booking.CourtID, slot booking.Slot) booking.Money {
	if slot.StartHour >= t.PeakStartHour && slot.StartHour < t.PeakEndHour {
		return t.PeakRate
	}
	return t.OffPeakRate
}

// FeeTable holds flat add-on fees.
type FeeTable struct {
	RacketFee     booking.Money // per rented racket
	ShuttleSetFee booking.Money // per shuttlecock set
}

// AddOnTotal prices a booking's add-ons.
func (f FeeTable) AddOnTotal(a booking.AddOns) booking.Money {
	total := f.RacketFee.MulInt(a.Rackets)
	return total.Add(f.ShuttleSetFee.MulInt(a.ShuttleSets))
}
