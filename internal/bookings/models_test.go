package bookings

import "testing"

// A completed appointment still occupies its slot: the car is in the shop
// whether or not the paperwork is done. Only cancelling frees the time.
func TestStatusBlocks(t *testing.T) {
	cases := []struct {
		status Status
		blocks bool
	}{
		{StatusPending, true},
		{StatusConfirmed, true},
		{StatusCompleted, true},
		{StatusCancelled, false},
	}
	for _, tc := range cases {
		if got := tc.status.Blocks(); got != tc.blocks {
			t.Errorf("%s.Blocks() = %v, want %v", tc.status, got, tc.blocks)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("broken").Valid() {
		t.Error("unknown status should be invalid")
	}
}
