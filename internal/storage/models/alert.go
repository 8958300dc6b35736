// internal/storage/models/alert.go
package models

// Alert is a rugpull indicator raised by chain surveillance.
type Alert struct {
	BaseModel
	Signature    string `gorm:"index;not null;type:varchar(88)" json:"signature"`
	TokenAddress string `gorm:"index;type:varchar(44)" json:"token_address,omitempty"`
	Reason       string `gorm:"not null;type:varchar(64)" json:"reason"`
	LogMessage   string `gorm:"type:text" json:"log_message,omitempty"`
	Details      string `gorm:"type:text" json:"details,omitempty"`
}
