package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ShiftDay    = "day"
	ShiftNight  = "night"
	ShiftOnCall = "on_call"
)

type NurseProfile struct {
	gorm.Model
	UserID         uint   `gorm:"uniqueIndex;not null"`
	Department     string `gorm:"size:100;not null"`
	PreferredShift string `gorm:"size:20;not null;default:day"`
	ContractHours  int    `gorm:"not null;default:45"`
	HiredDate      time.Time
	Active         bool `gorm:"not null;default:true"`
}
