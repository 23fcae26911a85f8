/**
 * @description
 * Core user-side domain models: the user document, the linked-account credentials it
 * owns, its monthly spending goals and the benefactor relation.
 *
 * @notes
 * - Credentials are insertion-ordered and carry no priority.
 * - A benefactor receives credentials by value; later changes on the primary side are
 *   only propagated in live-linked sharing mode.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role distinguishes account owners from users granted read access to someone else's data.
type Role string

const (
	RolePrimary    Role = "primary"
	RoleBenefactor Role = "benefactor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleBenefactor
}

// SharingMode controls how benefactors see credentials linked after the grant.
type SharingMode string

const (
	SharingSnapshot   SharingMode = "snapshot"
	SharingLiveLinked SharingMode = "live-linked"
)

// User is the per-user document. Credentials, benefactors and goals are mutated
// only through the repository's atomic operations.
type User struct {
	ID           uuid.UUID          `json:"id"`
	Username     string             `json:"username"`
	Email        string             `json:"email,omitempty"`
	PasswordHash string             `json:"-"`
	Role         Role               `json:"role"`
	Credentials  []AccessCredential `json:"-"`
	Benefactors  []string           `json:"benefactors,omitempty"`
	Goals        []Goal             `json:"-"`
	CreatedAt    time.Time          `json:"created_at"`
}

// AccessCredential is one durable aggregator connection (a Plaid item).
type AccessCredential struct {
	AccessToken string    `json:"-"`
	ItemID      string    `json:"item_id"`
	LinkedAt    time.Time `json:"linked_at"`
}

// Goal is a spending target for one calendar month.
type Goal struct {
	Period Period          `json:"period"`
	Amount decimal.Decimal `json:"amount"`
}

// GoalProgress compares a goal with the spend aggregated for its period.
// Percentage is never clamped; display clamping is a client concern.
type GoalProgress struct {
	Amount     decimal.Decimal `json:"amount"`
	Spent      decimal.Decimal `json:"spent"`
	Remaining  decimal.Decimal `json:"remaining"`
	Percentage decimal.Decimal `json:"percentage"`
}
