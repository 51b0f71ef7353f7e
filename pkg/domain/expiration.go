package domain

import (
	"time"
)

type Expiration string

const (
	ExpireHour  Expiration = "1h"
	ExpireDay   Expiration = "1d"
	ExpireWeek  Expiration = "1w"
	ExpireNever Expiration = "never"
)

// ParseExpiration maps the wire value to an Expiration. Empty input selects never.
func ParseExpiration(s string) (Expiration, error) {
	switch Expiration(s) {
	case "":
		return ExpireNever, nil
	case ExpireHour, ExpireDay, ExpireWeek, ExpireNever:
		return Expiration(s), nil
	}
	return "", ErrInvalidExpiration
}

// ExpiresAt returns the expiry instant for a paste created at created, or nil
// when it never expires. Hours and days are added on the wall clock of
// created's location, so a day is not always 24h across DST changes.
func (e Expiration) ExpiresAt(created time.Time) *time.Time {
	var t time.Time
	switch e {
	case ExpireHour:
		t = time.Date(created.Year(), created.Month(), created.Day(),
			created.Hour()+1, created.Minute(), created.Second(), created.Nanosecond(), created.Location())
	case ExpireDay:
		t = created.AddDate(0, 0, 1)
	case ExpireWeek:
		t = created.AddDate(0, 0, 7)
	default:
		return nil
	}
	return &t
}

func IsExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && expiresAt.Before(now)
}
