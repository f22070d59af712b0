package engine

import (
	"strings"
	"time"
)

var alertIDReplacer = strings.NewReplacer(":", "", ".", "", "T", "_")

// alertID derives a deterministic alert identifier from the alert time and
// symbol. Ids sort chronologically; two alerts for the same symbol within
// the same millisecond share an id and resolve last-write-wins.
func alertID(ts time.Time, symbol string) string {
	iso := ts.UTC().Format("2006-01-02T15:04:05.000Z")
	return "alert_" + alertIDReplacer.Replace(iso) + "_" + strings.ToLower(symbol)
}
