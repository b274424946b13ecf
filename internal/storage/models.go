package storage

import "time"

// Shop is a merchant's loyalty programme.
type Shop struct {
	ID             string    `json:"_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	StampThreshold int       `json:"stampThreshold"`
	AlertChatID    int64     `json:"-"` // Telegram chat linked via /link, 0 when unset
	LinkSecret     string    `json:"-"` // shown once at creation, required by /link
	CreatedAt      time.Time `json:"createdAt"`
}

// Customer is identified by the long-lived cookie set on the check-in page.
type Customer struct {
	ID        string    `json:"_id"`
	CookieID  string    `json:"cookieId"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RequestFilter narrows history queries. Zero fields do not filter.
type RequestFilter struct {
	Statuses []string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// RequestStats summarises a filtered set of requests.
type RequestStats struct {
	Customers int `json:"customers"`
	Stamps    int `json:"stamps"`
	Redeems   int `json:"redeems"`
}

// ChartPoint is one bucket of the history chart.
type ChartPoint struct {
	Bucket   string `json:"bucket"`
	Stamps   int    `json:"stamps"`
	Checkins int    `json:"checkins"`
	Redeems  int    `json:"redeems"`
}

// Bucket selects the granularity of RequestChart.
type Bucket int

const (
	BucketDay Bucket = iota
	BucketHour
)
