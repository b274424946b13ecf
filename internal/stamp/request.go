package stamp

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a stamp request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transition is defined out of s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

var (
	ErrNotFound      = errors.New("stamp request not found")
	ErrNotPending    = errors.New("stamp request already processed")
	ErrInvalidStatus = errors.New("invalid decision status")
	ErrInvalidAward  = errors.New("stamps awarded must not be negative")
)

// Request is one customer's check-in attempt at a shop.
type Request struct {
	ID            string     `json:"_id"`
	ShopID        string     `json:"shop"`
	CustomerID    string     `json:"customer"`
	Status        Status     `json:"status"`
	StampsAwarded *int       `json:"stampsAwarded,omitempty"` // set only on approval
	Redeem        bool       `json:"redeem"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`    // nil once the request leaves pending
	CustomerName  string     `json:"customerName,omitempty"` // populated by history queries
}

// Card is the running balance of one customer at one shop.
type Card struct {
	ShopID       string `json:"-"`
	CustomerID   string `json:"-"`
	Stamps       int    `json:"stamps"`
	TotalEarned  int    `json:"totalEarned"`
	FreeRedeemed int    `json:"freeRedeemed"`
}

// ApplyApproval mutates card for an approved request. A redeem is honoured
// only when the balance has reached threshold; the awarded stamps are added
// afterwards, so one approval can both redeem and earn. Reports whether the
// redeem was applied.
func ApplyApproval(card *Card, threshold, awarded int, redeem bool) bool {
	redeemed := false
	if redeem && card.Stamps >= threshold {
		card.Stamps -= threshold
		card.FreeRedeemed++
		redeemed = true
	}
	if awarded > 0 {
		card.Stamps += awarded
		card.TotalEarned += awarded
	}
	return redeemed
}
