package booking

import (
	"context"
	"fmt"
	"regexp"
)

var hhmmRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Availability is the outcome of an advisory slot check.
type Availability struct {
	Available bool
	Reason    string
}

// SlotChecker answers whether an active booking already occupies a slot.
type SlotChecker interface {
	SlotTaken(ctx context.Context, courtID, date, startTime string) (bool, error)
}

// CheckAvailability reports whether the requested window is bookable:
// the window must sit fully inside operating hours (closing boundary
// inclusive) and no non-cancelled booking may hold the same start time.
//
// This check is advisory. Two requests can race between the check and the
// write, so the authoritative guarantee is the storage-level unique index on
// active (court, date, start) rows; the coordinator translates that conflict.
func CheckAvailability(ctx context.Context, slots SlotChecker, court *Court, date, startTime, endTime string) (Availability, error) {
	if startTime >= endTime {
		return Availability{Reason: "end time must be after start time"}, nil
	}
	if startTime < court.OpeningTime || endTime > court.ClosingTime {
		return Availability{Reason: fmt.Sprintf("outside operating hours %s-%s", court.OpeningTime, court.ClosingTime)}, nil
	}

	taken, err := slots.SlotTaken(ctx, court.ID, date, startTime)
	if err != nil {
		return Availability{}, fmt.Errorf("availability check failed: %w", err)
	}
	if taken {
		return Availability{Reason: "slot already booked"}, nil
	}
	return Availability{Available: true}, nil
}

// validSlotInput validates the raw date and time fields of a booking request.
func validSlotInput(date, startTime, endTime string) error {
	if !dateRe.MatchString(date) {
		return fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
	}
	if !hhmmRe.MatchString(startTime) {
		return fmt.Errorf("start time must be HH:MM, got %q", startTime)
	}
	if !hhmmRe.MatchString(endTime) {
		return fmt.Errorf("end time must be HH:MM, got %q", endTime)
	}
	return nil
}
