package domain

import (
	"time"
)

type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyPrivate  Privacy = "private"
)

// ParsePrivacy maps the wire value to a Privacy. Empty input selects unlisted.
func ParsePrivacy(s string) (Privacy, error) {
	switch Privacy(s) {
	case "":
		return PrivacyUnlisted, nil
	case PrivacyPublic, PrivacyUnlisted, PrivacyPrivate:
		return Privacy(s), nil
	}
	return "", ErrInvalidPrivacy
}

type Paste struct {
	ID        string     `json:"id"`
	Slug      string     `json:"slug"`
	Title     *string    `json:"title"`
	Content   string     `json:"content"`
	Language  *string    `json:"language"`
	Privacy   Privacy    `json:"privacy"`
	TokenHash string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	Views     int64      `json:"views"`
}

func (p *Paste) Expired(now time.Time) bool {
	return IsExpired(p.ExpiresAt, now)
}

// Fields is the mutable part of a paste. Nil Title or Language clears the value.
type Fields struct {
	Title    *string
	Content  string
	Language *string
}

type CreateParams struct {
	Fields
	Privacy    Privacy
	Expiration Expiration
}

type UpdateParams struct {
	Fields
	Token string
}
