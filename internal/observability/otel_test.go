package observability

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alphabot-ai/trickbook/internal/logger"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" api-key = abc ,broken, x-team=tricks,empty=")
	want := map[string]string{"api-key": "abc", "x-team": "tricks"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseHeaders mismatch (-want +got):\n%s", diff)
	}
	if parseHeaders("") != nil {
		t.Error("empty header string should yield nil")
	}
}

func TestClampRatio(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0.25, 0.25},
		{3, 1},
	}
	for _, tt := range tests {
		if got := clampRatio(tt.in); got != tt.want {
			t.Errorf("clampRatio(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitOTelDisabled(t *testing.T) {
	shutdown := InitOTel(context.Background(), logger.Nop(), Config{})
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("disabled shutdown returned %v", err)
	}
}
