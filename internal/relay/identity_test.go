package relay

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		query string
		want  Identity
		err   error
	}{
		{"shop=bean&role=merchant", Identity{ShopCode: "bean", Role: RoleMerchant}, nil},
		{"shop=bean&role=merchant&clientId=merchant", Identity{ShopCode: "bean", Role: RoleMerchant}, nil},
		{"shop=bean&role=customer&clientId=c1", Identity{ShopCode: "bean", Role: RoleCustomer, ClientID: "c1"}, nil},
		{"role=merchant", Identity{}, ErrMissingParams},
		{"shop=bean", Identity{}, ErrMissingParams},
		{"shop=bean&role=customer", Identity{}, ErrMissingParams},
		{"shop=bean&role=admin", Identity{}, ErrInvalidRole},
		{"", Identity{}, ErrMissingParams},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := ParseIdentity(q)
			if !errors.Is(err, tt.err) {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("identity = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIdentityQueryRoundTrip(t *testing.T) {
	id := Identity{ShopCode: "bean", Role: RoleCustomer, ClientID: "c1"}
	got, err := ParseIdentity(id.Query())
	if err != nil || got != id {
		t.Errorf("round trip = %+v, %v", got, err)
	}
}
