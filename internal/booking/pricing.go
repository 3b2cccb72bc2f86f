package booking

// Quote derives the price and tariff tier for a booking starting at
// startTime (HH:MM). Peak wins over off-peak; a window with a missing rate
// falls back to the regular rate. Windows are validated not to overlap at
// court-configuration time, not here.
func Quote(court *Court, startTime string) (int64, PriceType) {
	if court.Peak.Enabled && inWindow(startTime, court.Peak) {
		if court.Peak.Rate > 0 {
			return court.Peak.Rate, PricePeak
		}
		return court.PriceHourly, PricePeak
	}
	if court.OffPeak.Enabled && inWindow(startTime, court.OffPeak) {
		if court.OffPeak.Rate > 0 {
			return court.OffPeak.Rate, PriceOffPeak
		}
		return court.PriceHourly, PriceOffPeak
	}
	return court.PriceHourly, PriceRegular
}

// inWindow reports whether t falls in [w.Start, w.End). Zero-padded HH:MM
// strings compare correctly as strings.
func inWindow(t string, w PriceWindow) bool {
	if w.Start == "" || w.End == "" {
		return false
	}
	return t >= w.Start && t < w.End
}
