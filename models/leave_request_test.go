package models

import (
	"strings"
	"testing"
	"time"
)

func TestLeaveReviewTransitions(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	r := LeaveRequest{Status: LeavePending, Reason: "family event"}
	if err := r.Review(LeaveApproved, "", now); err != nil {
		t.Fatalf("approve pending: %v", err)
	}
	if r.Status != LeaveApproved || r.ReviewedAt == nil || !r.ReviewedAt.Equal(now) {
		t.Fatalf("unexpected state after approve: %+v", r)
	}

	// reviewed requests stay reviewed
	if err := r.Review(LeaveRejected, "", now); err != ErrAlreadyReviewed {
		t.Fatalf("second review: got %v, want ErrAlreadyReviewed", err)
	}
	if r.Status != LeaveApproved {
		t.Fatalf("status changed by rejected second review: %s", r.Status)
	}
}

func TestLeaveReviewRejectionAppendsReason(t *testing.T) {
	r := LeaveRequest{Status: LeavePending, Reason: "conference"}
	if err := r.Review(LeaveRejected, "ward understaffed that week", time.Now()); err != nil {
		t.Fatalf("reject pending: %v", err)
	}
	if r.Status != LeaveRejected {
		t.Fatalf("status = %s, want rejected", r.Status)
	}
	if !strings.Contains(r.Reason, "conference") || !strings.Contains(r.Reason, "ward understaffed") {
		t.Fatalf("rejection reason not appended: %q", r.Reason)
	}
}

func TestLeaveReviewBadAction(t *testing.T) {
	r := LeaveRequest{Status: LeavePending}
	if err := r.Review("maybe", "", time.Now()); err != ErrBadReviewAction {
		t.Fatalf("got %v, want ErrBadReviewAction", err)
	}
	if r.Status != LeavePending || r.ReviewedAt != nil {
		t.Fatalf("bad action mutated the request: %+v", r)
	}
}
