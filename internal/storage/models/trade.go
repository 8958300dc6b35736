// internal/storage/models/trade.go
package models

// Trade is one buy or sell outcome issued by the control loop.
type Trade struct {
	BaseModel
	Side          string  `gorm:"index;not null;type:varchar(8)" json:"side"`
	Token         string  `gorm:"type:varchar(64)" json:"token"`
	Address       string  `gorm:"index;not null;type:varchar(44)" json:"address"`
	AmountSOL     float64 `json:"amount_sol,omitempty"`
	AmountTokens  string  `gorm:"type:varchar(64)" json:"amount_tokens,omitempty"`
	Price         float64 `json:"price,omitempty"`
	Reason        string  `gorm:"type:varchar(32)" json:"reason,omitempty"`
	Status        string  `gorm:"not null;type:varchar(16)" json:"status"`
	TransactionID string  `gorm:"type:varchar(88)" json:"transaction_id,omitempty"`
	Error         string  `gorm:"type:text" json:"error,omitempty"`
}
