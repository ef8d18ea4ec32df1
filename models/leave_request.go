package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	LeavePending  = "pending"
	LeaveApproved = "approved"
	LeaveRejected = "rejected"
)

const (
	LeaveTypeAnnual = "annual"
	LeaveTypeSick   = "sick"
	LeaveTypeUnpaid = "unpaid"
)

type LeaveRequest struct {
	gorm.Model
	NurseID    uint      `gorm:"index;not null"`
	StartDate  time.Time `gorm:"not null"`
	EndDate    time.Time `gorm:"not null"`
	LeaveType  string    `gorm:"size:50;not null"`
	Reason     string    `gorm:"type:text"`
	Status     string    `gorm:"size:20;not null;default:pending"`
	ReviewedAt *time.Time
}

var (
	ErrAlreadyReviewed = errors.New("leave request already reviewed")
	ErrBadReviewAction = errors.New("action must be approved or rejected")
)

// Review transitions a pending request to approved or rejected. The
// transition is one-way; a reviewed request cannot be reviewed again.
func (r *LeaveRequest) Review(action, rejectionReason string, now time.Time) error {
	if action != LeaveApproved && action != LeaveRejected {
		return ErrBadReviewAction
	}
	if r.Status != LeavePending {
		return ErrAlreadyReviewed
	}
	r.Status = action
	r.ReviewedAt = &now
	if action == LeaveRejected && strings.TrimSpace(rejectionReason) != "" {
		r.Reason = r.Reason + "\n[rejected] " + strings.TrimSpace(rejectionReason)
	}
	return nil
}
