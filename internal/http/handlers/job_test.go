package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/studyforge/studyforge-backend/internal/data/repos"
)

func TestStatusForMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("job abc: %w", repos.ErrJobNotFound), http.StatusNotFound},
		{fmt.Errorf("job abc is already completed"), http.StatusConflict},
		{fmt.Errorf("job abc is paused, not running"), http.StatusConflict},
		{fmt.Errorf("outline is empty"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
