// Package attempt reads and writes the retry counter carried on broker messages.
package attempt

import (
	"strconv"

	"github.com/vietddude/orderflow/internal/core/domain"
)

// Extract returns the attempt count recorded on msg.
// A missing, non-numeric or negative header counts as 0.
func Extract(msg domain.Message) int {
	n, ok := Lookup(msg)
	if !ok {
		return 0
	}
	return n
}

// Lookup is like Extract but reports whether a usable header was present.
func Lookup(msg domain.Message) (int, bool) {
	raw, ok := msg.Header(domain.HeaderRetryCount)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Attach returns a new message with the same key and payload as msg and
// the attempt count set to n. msg is left untouched.
func Attach(msg domain.Message, n int) domain.Message {
	if n < 0 {
		n = 0
	}
	return msg.WithHeader(domain.HeaderRetryCount, strconv.Itoa(n))
}

// AttachPayload builds a fresh message around payload carrying attempt n.
func AttachPayload(payload []byte, n int) domain.Message {
	return Attach(domain.Message{Value: payload}, n)
}
