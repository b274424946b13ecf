package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/brewstamp/brewstamp/internal/stamp"
	"github.com/brewstamp/brewstamp/internal/storage"
)

const historyLimit = 200

var decidedStatuses = []string{string(stamp.StatusApproved), string(stamp.StatusRejected)}

// historyWindow resolves range/date into [since, until) in loc. An explicit
// date always selects that single day in hourly buckets, whatever range says.
func historyWindow(rng, date string, now time.Time, loc *time.Location) (since, until time.Time, bucket storage.Bucket, err error) {
	var back int
	bucket = storage.BucketDay
	switch rng {
	case "", "today":
		bucket = storage.BucketHour
	case "week":
		back = 6
	case "month":
		back = 29
	default:
		return since, until, bucket, errors.New("unknown range")
	}

	day := now.In(loc)
	if date != "" {
		day, err = time.ParseInLocation(time.DateOnly, date, loc)
		if err != nil {
			return since, until, bucket, err
		}
		back, bucket = 0, storage.BucketHour
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return start.AddDate(0, 0, -back), start.AddDate(0, 0, 1), bucket, nil
}

// History handles GET /api/stamp-request/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	shop, ok := h.shopFromQuery(w, r)
	if !ok {
		return
	}

	since, until, bucket, err := historyWindow(q.Get("range"), q.Get("date"), h.clock.Now(), h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid range or date")
		return
	}
	filter := storage.RequestFilter{Statuses: decidedStatuses, Since: since, Until: until}

	listFilter := filter
	listFilter.Limit = historyLimit
	requests, err := h.store.ListRequests(ctx, shop.ID, listFilter)
	if err != nil {
		h.log.Error("list requests", "shop", shop.Code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	stats, err := h.store.RequestStats(ctx, shop.ID, filter)
	if err != nil {
		h.log.Error("request stats", "shop", shop.Code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	chart, err := h.store.RequestChart(ctx, shop.ID, filter, bucket, h.loc)
	if err != nil {
		h.log.Error("request chart", "shop", shop.Code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	if requests == nil {
		requests = []stamp.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"stats":    stats,
		"chart":    chart,
	})
}

// ActiveDates handles GET /api/stamp-request/active-dates.
func (h *Handler) ActiveDates(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFromQuery(w, r)
	if !ok {
		return
	}

	dates, err := h.store.ActiveDates(r.Context(), shop.ID, h.loc)
	if err != nil {
		h.log.Error("active dates", "shop", shop.Code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

func (h *Handler) shopFromQuery(w http.ResponseWriter, r *http.Request) (*storage.Shop, bool) {
	code := r.URL.Query().Get("shop")
	if code == "" {
		writeError(w, http.StatusBadRequest, "shop is required")
		return nil, false
	}
	shop, err := h.store.GetShopByCode(r.Context(), code)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "shop not found")
		return nil, false
	}
	if err != nil {
		h.log.Error("get shop", "shop", code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load shop")
		return nil, false
	}
	return shop, true
}
