package controllers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"wardflow/models"
	"wardflow/pkg/config"
	"wardflow/pkg/services"
)

// GetRoster builds the solver payload from active nurse profiles and their
// approved leave, then forwards it to the external rostering endpoint. The
// returned roster is opaque to this service.
func GetRoster(db *gorm.DB, roster *services.RosterService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := currentUserRecord(c, db); !ok {
			return
		}

		nursesPerShift := 2
		if v, err := strconv.Atoi(c.Query("n")); err == nil && v > 0 {
			nursesPerShift = v
		}

		var profiles []models.NurseProfile
		if err := db.Where("active = ?", true).Find(&profiles).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		if len(profiles) == 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"msg": "no active nurse profiles"})
			return
		}

		nurseIDs := make([]uint, 0, len(profiles))
		for _, p := range profiles {
			nurseIDs = append(nurseIDs, p.ID)
		}
		var approved []models.LeaveRequest
		if err := db.Where("nurse_id IN ? AND status = ?", nurseIDs, models.LeaveApproved).Find(&approved).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		daysOff := map[uint]map[int]struct{}{}
		for _, lr := range approved {
			set := daysOff[lr.NurseID]
			if set == nil {
				set = map[int]struct{}{}
				daysOff[lr.NurseID] = set
			}
			for d := lr.StartDate; !d.After(lr.EndDate); d = d.AddDate(0, 0, 1) {
				// Monday = 0 .. Sunday = 6, matching the solver contract
				set[(int(d.Weekday())+6)%7] = struct{}{}
			}
		}

		payload := services.SolverRequest{
			N:          nursesPerShift,
			MaxSeconds: config.SolverTimeoutSeconds,
		}
		for _, p := range profiles {
			shiftType := 0
			if p.PreferredShift == models.ShiftNight {
				shiftType = 1
			}
			off := make([]int, 0, len(daysOff[p.ID]))
			for d := range daysOff[p.ID] {
				off = append(off, d)
			}
			// stable payload so identical states hit the roster cache
			sort.Ints(off)
			payload.NurseProfiles = append(payload.NurseProfiles, services.SolverNurse{
				NurseID:            strconv.FormatUint(uint64(p.ID), 10),
				PreferredDaysOff:   off,
				PreferredShiftType: shiftType,
			})
		}

		raw, err := roster.GetRoster(c.Request.Context(), payload)
		if err != nil {
			if errors.Is(err, services.ErrSolverDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "rostering is not configured"})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"msg": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", raw)
	}
}
