package models

type User struct {
	Base
	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash  string `gorm:"not null" json:"-"`
	Name          string `json:"name"`
	IsActive      bool   `gorm:"default:true" json:"is_active"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`

	// Relationships
	Subscription *Subscription `gorm:"foreignKey:UserID" json:"subscription,omitempty"`
	Scans        []Scan        `gorm:"foreignKey:OwnerID" json:"-"`
}

func (User) TableName() string {
	return "users"
}
