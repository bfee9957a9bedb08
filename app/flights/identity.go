package flights

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// keyTimeLayout is the canonical string form of the scheduled time inside
// the natural key. Changing it changes every identity in the store.
const keyTimeLayout = "2006-01-02 15:04:05"

// Identity derives the stable flight fingerprint from the natural key:
// airline code, flight number, direction, airport code and scheduled time.
// No other field enters the hash, so repeated observations of the same
// flight always collapse onto one identity regardless of status, delay or
// terminal changes. MD5 is the compatibility contract with every identity
// already persisted; it is not used for anything adversarial.
func Identity(row Row) string {
	scheduled := ""
	if row.ScheduledTime != nil {
		scheduled = row.ScheduledTime.Format(keyTimeLayout)
	}

	naturalKey := fmt.Sprintf("%s_%s_%s_%s_%s",
		row.AirlineCode,
		row.FlightNumber,
		row.Direction,
		row.AirportCode,
		scheduled)

	sum := md5.Sum([]byte(naturalKey))
	return hex.EncodeToString(sum[:])
}
