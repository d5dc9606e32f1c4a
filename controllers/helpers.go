package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func ParamID(c *gin.Context, name string) (int64, bool) {
	v := c.Param(name)
	if v == "" {
		RespondError(c, name+" is required", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryID reads an optional positive id filter. ok is false after an error
// response was written.
func queryID(c *gin.Context, key string) (id int64, set bool, ok bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0, false, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, "invalid "+key, http.StatusBadRequest)
		return 0, false, false
	}
	return id, true, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// parseDateRange reads from/to (YYYY-MM-DD, inclusive). Defaults to the last
// 7 days.
func parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now()
	from := now.AddDate(0, 0, -6)
	to := now

	var err error
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		from, err = time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			RespondError(c, "invalid from (use YYYY-MM-DD)", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
	}
	if v := strings.TrimSpace(c.Query("to")); v != "" {
		to, err = time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			RespondError(c, "invalid to (use YYYY-MM-DD)", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
	}
	if from.After(to) {
		RespondError(c, "from must not be after to", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}

type dailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// fillDailySeries returns one entry per day between from and to, zero when
// rows has none.
func fillDailySeries(from, to time.Time, rows []dailyCount) []dailyCount {
	m := map[string]int64{}
	for _, r := range rows {
		if r.Day != "" {
			m[r.Day] = r.Count
		}
	}

	var out []dailyCount
	end := startOfDay(to)
	for cur := startOfDay(from); !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		key := cur.Format("2006-01-02")
		out = append(out, dailyCount{Day: key, Count: m[key]})
	}
	return out
}
