// Package rfid contains the core tag model shared by the stream client,
// the synchronizer and the serving layer.
package rfid

import (
	"strings"
	"time"
)

// NormalizeEPC canonicalizes a tag identifier. EPCs compare
// case-insensitively everywhere, so every component stores and looks
// them up in this normalized form.
func NormalizeEPC(epc string) string {
	return strings.ToUpper(strings.TrimSpace(epc))
}

// ScannedTag is a single observed tag as presented to clients.
// Identity is the EPC; all other fields are refreshed on repeat sightings.
type ScannedTag struct {
	EPC         string    `json:"epc"`
	RSSI        int       `json:"rssi"`
	AntennaPort int       `json:"antennaPort"`
	SeenAt      time.Time `json:"seenAt"`

	// Mapped and TargetCode are set once a mapping exists. TargetCode is
	// nil while the code is unknown, which can happen transiently after a
	// create conflict until the follow-up lookup resolves it.
	Mapped     bool    `json:"isMapped"`
	TargetCode *string `json:"targetCode"`
}
