package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord is returned when a stored document is missing required fields.
var ErrInvalidRecord = errors.New("invalid stored record")

// User is the cached profile of an account held by the identity provider.
type User struct {
	UID            string    `bson:"_id" json:"uid"`
	DisplayName    string    `bson:"displayName" json:"displayName"`
	FirstName      string    `bson:"firstName" json:"firstName"`
	LastName       string    `bson:"lastName" json:"lastName"`
	Email          string    `bson:"email" json:"email"`
	PhoneNumber    string    `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	PhotoURL       string    `bson:"photoUrl" json:"photoUrl"`
	DateRegistered time.Time `bson:"dateRegistered" json:"dateRegistered"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Validate reports the first required field that is missing.
func (u *User) Validate() error {
	switch {
	case u.UID == "":
		return fmt.Errorf("%w: user missing uid", ErrInvalidRecord)
	case u.Email == "":
		return fmt.Errorf("%w: user %s missing email", ErrInvalidRecord, u.UID)
	case u.DateRegistered.IsZero():
		return fmt.Errorf("%w: user %s missing dateRegistered", ErrInvalidRecord, u.UID)
	}
	return nil
}

// Account is what the identity provider reports after a successful sign-in.
type Account struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// NewUserFromAccount maps a provider account onto a fresh profile record.
func NewUserFromAccount(a Account, now time.Time) *User {
	now = now.UTC()
	return &User{
		UID:            a.UID,
		DisplayName:    a.DisplayName,
		Email:          a.Email,
		PhotoURL:       a.PhotoURL,
		DateRegistered: now,
		UpdatedAt:      now,
	}
}
