// Package models provides data models for the holder rounds system.
package models

import (
	"encoding/json"
	"math/big"
	"time"
)

// HolderRecord is one ranked entry of the current holder snapshot
type HolderRecord struct {
	Address     string    `json:"address" db:"wallet_address"`
	Balance     *big.Int  `json:"balance" db:"balance"`
	Rank        int       `json:"rank" db:"rank"`
	Percentage  float64   `json:"percentage" db:"percentage"`
	LastUpdated time.Time `json:"lastUpdated" db:"last_updated"`
}

// MarshalJSON encodes the balance as a decimal string so clients keep full precision
func (h HolderRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Address     string    `json:"address"`
		Balance     string    `json:"balance"`
		Rank        int       `json:"rank"`
		Percentage  float64   `json:"percentage"`
		LastUpdated time.Time `json:"lastUpdated"`
	}{
		Address:     h.Address,
		Balance:     amountString(h.Balance),
		Rank:        h.Rank,
		Percentage:  h.Percentage,
		LastUpdated: h.LastUpdated,
	})
}

// HolderBalance is a raw (address, balance) pair as read from the chain
type HolderBalance struct {
	Address string
	Balance *big.Int
}

// HolderSnapshotPoint is one row of the holder history time series
type HolderSnapshotPoint struct {
	TakenAt    time.Time `json:"takenAt"`
	Asset      string    `json:"asset"`
	Address    string    `json:"address"`
	Balance    string    `json:"balance"`
	Rank       int       `json:"rank"`
	Percentage float64   `json:"percentage"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
