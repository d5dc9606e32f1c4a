package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestFillDailySeries(t *testing.T) {
	from := time.Date(2026, 3, 1, 15, 0, 0, 0, time.Local)
	to := time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local)
	rows := []dailyCount{{Day: "2026-03-02", Count: 3}, {Day: "", Count: 9}}

	got := fillDailySeries(from, to, rows)
	want := []dailyCount{
		{Day: "2026-03-01"},
		{Day: "2026-03-02", Count: 3},
		{Day: "2026-03-03"},
		{Day: "2026-03-04"},
	}
	if len(got) != len(want) {
		t.Fatalf("series = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("series[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParamID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		param  string
		wantOK bool
	}{
		{"12", true},
		{"0", false},
		{"-3", false},
		{"abc", false},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: tt.param}}

		_, ok := ParamID(c, "id")
		if ok != tt.wantOK {
			t.Fatalf("ParamID(%q) ok = %v", tt.param, ok)
		}
		if !ok && w.Code != http.StatusBadRequest {
			t.Fatalf("ParamID(%q) status = %d", tt.param, w.Code)
		}
	}
}
