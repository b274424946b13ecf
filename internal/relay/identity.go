package relay

import (
	"errors"
	"net/url"
)

// Role is the participant kind of a relay connection.
type Role string

const (
	RoleMerchant Role = "merchant"
	RoleCustomer Role = "customer"
)

var (
	ErrMissingParams = errors.New("missing required parameters")
	ErrInvalidRole   = errors.New("invalid role")
)

// Identity is who a connection speaks for.
type Identity struct {
	ShopCode string
	Role     Role
	ClientID string // customer ID; empty for merchants
}

// ParseIdentity extracts the identity from upgrade query parameters: shop
// and role are always required, clientId only for customers.
func ParseIdentity(q url.Values) (Identity, error) {
	id := Identity{
		ShopCode: q.Get("shop"),
		Role:     Role(q.Get("role")),
		ClientID: q.Get("clientId"),
	}

	if id.ShopCode == "" || id.Role == "" {
		return Identity{}, ErrMissingParams
	}

	switch id.Role {
	case RoleMerchant:
		id.ClientID = ""
	case RoleCustomer:
		if id.ClientID == "" {
			return Identity{}, ErrMissingParams
		}
	default:
		return Identity{}, ErrInvalidRole
	}
	return id, nil
}

// Query renders id back into upgrade query parameters.
func (id Identity) Query() url.Values {
	q := url.Values{}
	q.Set("shop", id.ShopCode)
	q.Set("role", string(id.Role))
	if id.ClientID != "" {
		q.Set("clientId", id.ClientID)
	}
	return q
}
