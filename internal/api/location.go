package api

import (
	"sort"
	"sync"
)

// LatestLocation holds the latest known location for a driver on a booking.
type LatestLocation struct {
	BookingID string  `json:"bookingId"`
	DriverID  string  `json:"driverId"`
	Leg       string  `json:"leg"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	TS        string  `json:"ts"`
}

// LocationCache stores latest driver locations per booking/driver. It is
// live state only and never written to the booking record.
type LocationCache struct {
	mu sync.Mutex
	m  map[string]map[string]LatestLocation // bookingId -> driverId
}

// NewLocationCache constructs a LocationCache.
func NewLocationCache() *LocationCache {
	return &LocationCache{m: map[string]map[string]LatestLocation{}}
}

// Upsert stores or updates the latest location for a driver.
func (c *LocationCache) Upsert(loc LatestLocation) {
	if loc.BookingID == "" || loc.DriverID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m[loc.BookingID] == nil {
		c.m[loc.BookingID] = map[string]LatestLocation{}
	}
	c.m[loc.BookingID][loc.DriverID] = loc
}

// ListByBooking returns the latest locations for drivers on a booking.
func (c *LocationCache) ListByBooking(bookingID string) []LatestLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LatestLocation, 0, len(c.m[bookingID]))
	for _, v := range c.m[bookingID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out
}

// Forget drops a booking once nobody is driving it.
func (c *LocationCache) Forget(bookingID string) {
	c.mu.Lock()
	delete(c.m, bookingID)
	c.mu.Unlock()
}
