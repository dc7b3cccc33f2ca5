package models

import "time"

type Merchant struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	SettlementAddress string     `json:"settlement_address"`
	Active            bool       `json:"active"`
	Terminals         []Terminal `json:"terminals,omitempty"`
	TxCount           int64      `json:"tx_count"`
	TxVolume          int64      `json:"tx_volume"`
	CreatedAt         time.Time  `json:"created_at"`
}

type Terminal struct {
	ID         string `json:"id"`
	MerchantID string `json:"merchant_id"`
	Label      string `json:"label"`
	Active     bool   `json:"active"`
}

// APIKey authenticates merchant-facing calls. Only the bcrypt hash of the
// secret half is stored; the key id half is the lookup key.
type APIKey struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchant_id"`
	SecretHash string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
