// Package rollout decides which users are offered a firmware update.
//
// Cohort membership is part of the device wire contract: a user is admitted
// to a rollout when bucket(user ID + firmware ID) is below the target
// percentage. The bucket is a 32-bit signed polynomial hash (multiplier 31,
// wrapping on overflow) over the UTF-16 code units of the concatenated
// identifiers, made non-negative in 64 bits and reduced modulo 100.
package rollout

import "unicode/utf16"

// Hash returns the 32-bit polynomial hash of s over its UTF-16 code units.
func Hash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(unit)
	}
	return h
}

// Bucket maps a (user, firmware) pair to a stable value in [0, 99].
func Bucket(userID, firmwareID string) int {
	h := int64(Hash(userID + firmwareID))
	if h < 0 {
		h = -h
	}
	return int(h % 100)
}

// Admitted reports whether the user falls inside a rollout of the given percentage.
func Admitted(userID, firmwareID string, percentage int) bool {
	return Bucket(userID, firmwareID) < percentage
}
