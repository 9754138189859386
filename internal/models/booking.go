package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BookingNight identifies one calendar night as [year, dayOfYear].
type BookingNight struct {
	Year uint16 `json:"year"`
	Day  uint16 `json:"day"`
}

// NightFromDate converts a calendar date into its [year, dayOfYear] pair.
func NightFromDate(t time.Time) BookingNight {
	return BookingNight{Year: uint16(t.Year()), Day: uint16(t.YearDay())}
}

// Date returns the UTC midnight of the night.
func (n BookingNight) Date() time.Time {
	return time.Date(int(n.Year), time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(n.Day)-1)
}

func (n BookingNight) String() string {
	return fmt.Sprintf("%d/%d", n.Year, n.Day)
}

// Valid reports whether the day fits inside the year.
func (n BookingNight) Valid() bool {
	if n.Year == 0 || n.Day == 0 {
		return false
	}
	last := 365
	if isLeap(int(n.Year)) {
		last = 366
	}
	return int(n.Day) <= last
}

// Tuples returns nights in the [][2]uint16 shape the booking contract expects.
func Tuples(nights []BookingNight) [][2]uint16 {
	out := make([][2]uint16, 0, len(nights))
	for _, n := range nights {
		out = append(out, [2]uint16{n.Year, n.Day})
	}
	return out
}

// Years returns the distinct years of nights in first-seen order.
func Years(nights []BookingNight) []uint16 {
	seen := make(map[uint16]struct{}, 2)
	var years []uint16
	for _, n := range nights {
		if _, ok := seen[n.Year]; ok {
			continue
		}
		seen[n.Year] = struct{}{}
		years = append(years, n.Year)
	}
	return years
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// ChainBookingStatus mirrors the booking contract status enum.
type ChainBookingStatus uint8

const (
	ChainStatusPending ChainBookingStatus = iota
	ChainStatusConfirmed
	ChainStatusCheckedIn
	ChainStatusCancelled
)

func (s ChainBookingStatus) String() string {
	switch s {
	case ChainStatusPending:
		return StatusPending
	case ChainStatusConfirmed:
		return StatusConfirmed
	case ChainStatusCheckedIn:
		return StatusCheckedIn
	case ChainStatusCancelled:
		return StatusCancelled
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ChainBookingRecord is a booking as stored by the booking contract.
type ChainBookingRecord struct {
	Status    ChainBookingStatus `json:"status"`
	Year      uint16             `json:"year"`
	DayOfYear uint16             `json:"day_of_year"`
	Price     decimal.Decimal    `json:"price"`
	Timestamp time.Time          `json:"timestamp"`
}

// Night returns the record's [year, dayOfYear] pair.
func (r ChainBookingRecord) Night() BookingNight {
	return BookingNight{Year: r.Year, Day: r.DayOfYear}
}

// StakeByYear maps a calendar year to the tokens staked for bookings in it.
type StakeByYear map[uint16]decimal.Decimal

// FoldStakeByYear sums record prices per year.
func FoldStakeByYear(records []ChainBookingRecord) StakeByYear {
	out := make(StakeByYear)
	for _, r := range records {
		out[r.Year] = out[r.Year].Add(r.Price)
	}
	return out
}

// Max returns the largest per-year stake, zero when empty.
func (s StakeByYear) Max() decimal.Decimal {
	max := decimal.Zero
	for _, v := range s {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

// For returns the stake committed to year, zero when absent.
func (s StakeByYear) For(year uint16) decimal.Decimal {
	if v, ok := s[year]; ok {
		return v
	}
	return decimal.Zero
}
