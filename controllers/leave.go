package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"wardflow/models"
)

func validLeaveType(s string) bool {
	switch s {
	case models.LeaveTypeAnnual, models.LeaveTypeSick, models.LeaveTypeUnpaid:
		return true
	}
	return false
}

// CreateLeaveRequest files a leave request for the caller's nurse profile.
func CreateLeaveRequest(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}
		var profile models.NurseProfile
		if err := db.Where("user_id = ?", user.ID).First(&profile).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "profile not found, complete onboarding first"})
			return
		}

		var body struct {
			StartDate string `json:"start_date"` // YYYY-MM-DD
			EndDate   string `json:"end_date"`
			LeaveType string `json:"leave_type"`
			Reason    string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}

		start, err := time.Parse("2006-01-02", strings.TrimSpace(body.StartDate))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "start_date must be YYYY-MM-DD"})
			return
		}
		end, err := time.Parse("2006-01-02", strings.TrimSpace(body.EndDate))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "end_date must be YYYY-MM-DD"})
			return
		}
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "end_date must not precede start_date"})
			return
		}

		leaveType := strings.TrimSpace(strings.ToLower(body.LeaveType))
		if !validLeaveType(leaveType) {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "leave_type must be annual, sick or unpaid"})
			return
		}

		// Overlapping pending/approved requests are rejected outright.
		var overlap int64
		db.Model(&models.LeaveRequest{}).
			Where("nurse_id = ? AND status IN ? AND start_date <= ? AND end_date >= ?",
				profile.ID, []string{models.LeavePending, models.LeaveApproved}, end, start).
			Count(&overlap)
		if overlap > 0 {
			c.JSON(http.StatusConflict, gin.H{"msg": "overlapping leave request already exists"})
			return
		}

		req := models.LeaveRequest{
			NurseID:   profile.ID,
			StartDate: start,
			EndDate:   end,
			LeaveType: leaveType,
			Reason:    strings.TrimSpace(body.Reason),
			Status:    models.LeavePending,
		}
		if err := db.Create(&req).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to create leave request"})
			return
		}

		c.JSON(http.StatusCreated, leaveJSON(req))
	}
}

// ListLeaveRequests returns the caller's own leave requests, newest first.
func ListLeaveRequests(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}
		var profile models.NurseProfile
		if err := db.Where("user_id = ?", user.ID).First(&profile).Error; err != nil {
			c.JSON(http.StatusOK, []gin.H{})
			return
		}

		var reqs []models.LeaveRequest
		if err := db.Where("nurse_id = ?", profile.ID).Order("created_at DESC").Find(&reqs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		out := make([]gin.H, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, leaveJSON(r))
		}
		c.JSON(http.StatusOK, out)
	}
}

// AdminListLeaveRequests lists all leave requests, filterable by status.
func AdminListLeaveRequests(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := db.Model(&models.LeaveRequest{})
		if status := strings.TrimSpace(strings.ToLower(c.Query("status"))); status != "" {
			q = q.Where("status = ?", status)
		}
		var reqs []models.LeaveRequest
		if err := q.Order("created_at DESC").Find(&reqs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		out := make([]gin.H, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, leaveJSON(r))
		}
		c.JSON(http.StatusOK, out)
	}
}

// AdminReviewLeaveRequest approves or rejects a pending request. A request
// reviewed once stays reviewed.
func AdminReviewLeaveRequest(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid id"})
			return
		}

		var body struct {
			Action string `json:"action"`
			Reason string `json:"rejection_reason"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}
		action := strings.TrimSpace(strings.ToLower(body.Action))

		var req models.LeaveRequest
		if err := db.First(&req, id).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "leave request not found"})
			return
		}

		switch err := req.Review(action, body.Reason, time.Now()); err {
		case nil:
		case models.ErrBadReviewAction:
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		case models.ErrAlreadyReviewed:
			c.JSON(http.StatusConflict, gin.H{"msg": err.Error()})
			return
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to review leave request"})
			return
		}

		if err := db.Save(&req).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to update leave request"})
			return
		}
		c.JSON(http.StatusOK, leaveJSON(req))
	}
}

func leaveJSON(r models.LeaveRequest) gin.H {
	out := gin.H{
		"id":         r.ID,
		"nurse_id":   r.NurseID,
		"start_date": r.StartDate.Format("2006-01-02"),
		"end_date":   r.EndDate.Format("2006-01-02"),
		"leave_type": r.LeaveType,
		"reason":     r.Reason,
		"status":     r.Status,
		"created_at": r.CreatedAt,
	}
	if r.ReviewedAt != nil {
		out["reviewed_at"] = r.ReviewedAt
	}
	return out
}
