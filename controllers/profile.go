package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"wardflow/models"
)

type onboardingBody struct {
	Department     string `json:"department"`
	PreferredShift string `json:"preferred_shift"`
	ContractHours  *int   `json:"contract_hours"`
	HiredDate      string `json:"hired_date"` // YYYY-MM-DD
}

func validShift(s string) bool {
	switch s {
	case models.ShiftDay, models.ShiftNight, models.ShiftOnCall:
		return true
	}
	return false
}

// Onboarding creates the nurse profile for a freshly registered account.
// Runs once per account; a second attempt conflicts.
func Onboarding(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}

		var body onboardingBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}

		department := strings.TrimSpace(body.Department)
		if department == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "department is required"})
			return
		}
		shift := strings.TrimSpace(strings.ToLower(body.PreferredShift))
		if shift == "" {
			shift = models.ShiftDay
		}
		if !validShift(shift) {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "preferred_shift must be day, night or on_call"})
			return
		}

		hours := 45
		if body.ContractHours != nil {
			hours = *body.ContractHours
		}
		if hours < 8 || hours > 60 {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "contract_hours must be between 8 and 60"})
			return
		}

		hired := time.Now()
		if s := strings.TrimSpace(body.HiredDate); s != "" {
			parsed, err := time.Parse("2006-01-02", s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "hired_date must be YYYY-MM-DD"})
				return
			}
			hired = parsed
		}

		var exists models.NurseProfile
		if err := db.Where("user_id = ?", user.ID).First(&exists).Error; err == nil {
			c.JSON(http.StatusConflict, gin.H{"msg": "profile already exists"})
			return
		} else if err != gorm.ErrRecordNotFound {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		profile := models.NurseProfile{
			UserID:         user.ID,
			Department:     department,
			PreferredShift: shift,
			ContractHours:  hours,
			HiredDate:      hired,
			Active:         true,
		}
		if err := db.Create(&profile).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to create profile"})
			return
		}

		c.JSON(http.StatusCreated, profileJSON(profile))
	}
}

// GetProfile returns the caller's nurse profile.
func GetProfile(db *gorm.DB) gin.HandlerFunc {
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
		c.JSON(http.StatusOK, profileJSON(profile))
	}
}

// UpdateProfile patches the mutable profile fields.
func UpdateProfile(db *gorm.DB) gin.HandlerFunc {
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
			Department     *string `json:"department"`
			PreferredShift *string `json:"preferred_shift"`
			ContractHours  *int    `json:"contract_hours"`
			Active         *bool   `json:"active"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}

		if body.Department != nil {
			d := strings.TrimSpace(*body.Department)
			if d == "" {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "department cannot be empty"})
				return
			}
			profile.Department = d
		}
		if body.PreferredShift != nil {
			s := strings.TrimSpace(strings.ToLower(*body.PreferredShift))
			if !validShift(s) {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "preferred_shift must be day, night or on_call"})
				return
			}
			profile.PreferredShift = s
		}
		if body.ContractHours != nil {
			if *body.ContractHours < 8 || *body.ContractHours > 60 {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "contract_hours must be between 8 and 60"})
				return
			}
			profile.ContractHours = *body.ContractHours
		}
		if body.Active != nil {
			profile.Active = *body.Active
		}

		if err := db.Save(&profile).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to update profile"})
			return
		}
		c.JSON(http.StatusOK, profileJSON(profile))
	}
}

func profileJSON(p models.NurseProfile) gin.H {
	return gin.H{
		"id":              p.ID,
		"department":      p.Department,
		"preferred_shift": p.PreferredShift,
		"contract_hours":  p.ContractHours,
		"hired_date":      p.HiredDate.Format("2006-01-02"),
		"active":          p.Active,
	}
}
