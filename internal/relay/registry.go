package relay

import "sync"

// Channel is the set of live connections for one shop.
type Channel struct {
	merchant  *Peer
	customers map[string]*Peer
}

func (c *Channel) empty() bool {
	return c.merchant == nil && len(c.customers) == 0
}

// Registry maps shop codes to their channels. One mutex guards the whole
// map; every operation is a constant-time map update.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// getOrCreateChannel must be called with mu held.
func (r *Registry) getOrCreateChannel(shopCode string) *Channel {
	ch, ok := r.channels[shopCode]
	if !ok {
		ch = &Channel{customers: make(map[string]*Peer)}
		r.channels[shopCode] = ch
	}
	return ch
}

// dropIfEmpty must be called with mu held.
func (r *Registry) dropIfEmpty(shopCode string, ch *Channel) {
	if ch.empty() {
		delete(r.channels, shopCode)
	}
}

// SetMerchant installs p as the shop's merchant and returns the connection
// it replaced, if any. The replaced connection is not notified.
func (r *Registry) SetMerchant(shopCode string, p *Peer) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.getOrCreateChannel(shopCode)
	prev := ch.merchant
	ch.merchant = p
	return prev
}

// SetCustomer installs p for customerID and returns the connection it
// replaced, if any.
func (r *Registry) SetCustomer(shopCode, customerID string, p *Peer) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.getOrCreateChannel(shopCode)
	prev := ch.customers[customerID]
	ch.customers[customerID] = p
	return prev
}

// RemoveMerchant clears the merchant slot if it still holds p. A connection
// that has already been superseded leaves its successor in place.
func (r *Registry) RemoveMerchant(shopCode string, p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[shopCode]
	if !ok || ch.merchant != p {
		return false
	}
	ch.merchant = nil
	r.dropIfEmpty(shopCode, ch)
	return true
}

// RemoveCustomer clears the customer slot if it still holds p.
func (r *Registry) RemoveCustomer(shopCode, customerID string, p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[shopCode]
	if !ok || ch.customers[customerID] != p {
		return false
	}
	delete(ch.customers, customerID)
	r.dropIfEmpty(shopCode, ch)
	return true
}

// Merchant returns the shop's merchant connection, or nil.
func (r *Registry) Merchant(shopCode string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[shopCode]; ok {
		return ch.merchant
	}
	return nil
}

// Customer returns the connection for customerID at the shop, or nil.
func (r *Registry) Customer(shopCode, customerID string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[shopCode]; ok {
		return ch.customers[customerID]
	}
	return nil
}

// Has reports whether the shop currently has a channel.
func (r *Registry) Has(shopCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[shopCode]
	return ok
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// ChannelStats describes one shop's channel.
type ChannelStats struct {
	Merchant  bool
	Customers int
}

// Stats returns the shape of the shop's channel; ok is false when the shop
// has no channel.
func (r *Registry) Stats(shopCode string) (stats ChannelStats, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[shopCode]
	if !ok {
		return ChannelStats{}, false
	}
	return ChannelStats{Merchant: ch.merchant != nil, Customers: len(ch.customers)}, true
}
