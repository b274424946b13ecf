package relay

import "encoding/json"

// Message types carried over the relay.
const (
	TypeConnected       = "connected"
	TypeRequestNew      = "stamp-request:new"
	TypeRequestApproved = "stamp-request:approved"
	TypeRequestRejected = "stamp-request:rejected"
)

// Envelope is the part of every message the relay inspects.
type Envelope struct {
	Type       string `json:"type"`
	CustomerID string `json:"customerId,omitempty"`
}

// ParseEnvelope decodes the routing fields of raw. It fails on non-JSON
// input and on a missing type.
func ParseEnvelope(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}

// Connected acknowledges a registered connection.
type Connected struct {
	Type     string `json:"type"`
	Role     Role   `json:"role"`
	ShopCode string `json:"shopCode"`
}

// RequestNew announces a customer's stamp request to the merchant.
type RequestNew struct {
	Type         string `json:"type"`
	RequestID    string `json:"requestId"`
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	Stamps       int    `json:"stamps"`
	Threshold    int    `json:"threshold"`
	Redeem       bool   `json:"redeem"`
}

// RequestApproved tells a customer their request was approved and carries
// the resulting balance.
type RequestApproved struct {
	Type            string `json:"type"`
	RequestID       string `json:"requestId"`
	CustomerID      string `json:"customerId"`
	StampsAwarded   int    `json:"stampsAwarded"`
	Redeemed        bool   `json:"redeemed"`
	NewStamps       int    `json:"newStamps"`
	NewTotalEarned  int    `json:"newTotalEarned"`
	NewFreeRedeemed int    `json:"newFreeRedeemed"`
}

// RequestRejected tells a customer their request was declined. Sent by a
// customer, it withdraws that customer's earlier request.
type RequestRejected struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	CustomerID string `json:"customerId"`
}
