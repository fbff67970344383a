package identity

import "unicode/utf16"

// Unassigned is the numeric identity the RTC backend reserves for
// "let the server pick one". It is never returned by NumericID.
const Unassigned uint32 = 0

// NumericID maps an opaque user identity to the 32-bit numeric identity used
// inside an RTC channel.
//
// The hash runs over UTF-16 code units with int32 wraparound at every step
// (h = h*31 + unit), so clients that compute the same value on their side
// (Dart/JS/Kotlin) agree bit for bit. The absolute value of MinInt32 is
// 2147483648, which still fits in a uint32.
func NumericID(identity string) uint32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(identity)) {
		h = h*31 + int32(unit)
	}

	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	if abs == 0 {
		return 1
	}
	return uint32(abs)
}

// Resolve maps caller and receiver identities and guarantees the two numeric
// identities differ. On collision the receiver is bumped by one, or set to 2
// when the bump would land on Unassigned.
//
// This only separates the two parties of one call; it says nothing about third
// identities already present in the channel.
func Resolve(caller, receiver string) (callerID, receiverID uint32) {
	callerID = NumericID(caller)
	receiverID = NumericID(receiver)
	if callerID == receiverID {
		receiverID++
		if receiverID == Unassigned {
			receiverID = 2
		}
	}
	return callerID, receiverID
}
