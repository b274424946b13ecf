package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brewstamp/brewstamp/internal/stamp"
)

// --- History ---

func (f RequestFilter) where(shopID string) (string, []any) {
	clauses := []string{"r.shop_id = ?"}
	args := []any{shopID}

	if len(f.Statuses) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		clauses = append(clauses, "r.status IN ("+marks+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "r.created_at >= ?")
		args = append(args, toMillis(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "r.created_at < ?")
		args = append(args, toMillis(f.Until))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListRequests returns a shop's requests matching f, newest first.
func (s *Storage) ListRequests(ctx context.Context, shopID string, f RequestFilter) ([]stamp.Request, error) {
	where, args := f.where(shopID)
	query := selectRequest + where + " ORDER BY r.created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []stamp.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// RequestStats counts distinct customers, awarded stamps and redeems.
func (s *Storage) RequestStats(ctx context.Context, shopID string, f RequestFilter) (*RequestStats, error) {
	where, args := f.where(shopID)
	var st RequestStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT r.customer_id),
			COALESCE(SUM(CASE WHEN r.status = 'approved' THEN COALESCE(r.stamps_awarded, 0) ELSE 0 END), 0),
			COALESCE(SUM(r.redeem), 0)
		 FROM stamp_requests r`+where,
		args...,
	).Scan(&st.Customers, &st.Stamps, &st.Redeems)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RequestChart buckets matching requests by hour or day in loc.
func (s *Storage) RequestChart(ctx context.Context, shopID string, f RequestFilter, bucket Bucket, loc *time.Location) ([]ChartPoint, error) {
	requests, err := s.ListRequests(ctx, shopID, RequestFilter{Statuses: f.Statuses, Since: f.Since, Until: f.Until})
	if err != nil {
		return nil, err
	}

	points := make(map[string]*ChartPoint)
	for _, r := range requests {
		key := bucketKey(r.CreatedAt.In(loc), bucket)
		p, ok := points[key]
		if !ok {
			p = &ChartPoint{Bucket: key}
			points[key] = p
		}
		p.Checkins++
		if r.Status == stamp.StatusApproved && r.StampsAwarded != nil {
			p.Stamps += *r.StampsAwarded
		}
		if r.Redeem {
			p.Redeems++
		}
	}

	chart := make([]ChartPoint, 0, len(points))
	for _, p := range points {
		chart = append(chart, *p)
	}
	sort.Slice(chart, func(i, j int) bool { return chart[i].Bucket < chart[j].Bucket })
	return chart, nil
}

// ActiveDates returns the days in loc on which the shop decided requests.
func (s *Storage) ActiveDates(ctx context.Context, shopID string, loc *time.Location) ([]string, error) {
	requests, err := s.ListRequests(ctx, shopID, RequestFilter{
		Statuses: []string{string(stamp.StatusApproved), string(stamp.StatusRejected)},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	dates := []string{}
	for _, r := range requests {
		day := r.CreatedAt.In(loc).Format(time.DateOnly)
		if !seen[day] {
			seen[day] = true
			dates = append(dates, day)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func bucketKey(t time.Time, bucket Bucket) string {
	if bucket == BucketHour {
		return fmt.Sprintf("%02d", t.Hour())
	}
	return t.Format(time.DateOnly)
}
