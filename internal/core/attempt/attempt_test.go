package attempt

import (
	"bytes"
	"testing"

	"github.com/vietddude/orderflow/internal/core/domain"
)

func TestExtract_RoundTrip(t *testing.T) {
	for n := 0; n < 100; n++ {
		msg := AttachPayload([]byte("order"), n)
		if got := Extract(msg); got != n {
			t.Errorf("expected %d, got %d", n, got)
		}
	}
}

func TestExtract_DefaultsToZero(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"nil headers", nil},
		{"missing header", map[string]string{"other": "3"}},
		{"empty value", map[string]string{domain.HeaderRetryCount: ""}},
		{"non numeric", map[string]string{domain.HeaderRetryCount: "abc"}},
		{"float", map[string]string{domain.HeaderRetryCount: "1.5"}},
		{"negative", map[string]string{domain.HeaderRetryCount: "-2"}},
		{"overflow", map[string]string{domain.HeaderRetryCount: "99999999999999999999999"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := domain.Message{Value: []byte("x"), Headers: tt.headers}
			if got := Extract(msg); got != 0 {
				t.Errorf("expected 0, got %d", got)
			}
			if _, ok := Lookup(msg); ok {
				t.Error("expected Lookup to report no usable header")
			}
		})
	}
}

func TestAttach_DoesNotMutate(t *testing.T) {
	original := domain.Message{
		Key:     "k",
		Value:   []byte("payload"),
		Headers: map[string]string{domain.HeaderRetryCount: "1", "message-id": "abc"},
	}

	next := Attach(original, 2)

	if original.Headers[domain.HeaderRetryCount] != "1" {
		t.Errorf("original header changed to %s", original.Headers[domain.HeaderRetryCount])
	}
	if Extract(next) != 2 {
		t.Errorf("expected 2, got %d", Extract(next))
	}
	if next.Headers["message-id"] != "abc" {
		t.Error("expected other headers to be carried over")
	}
	if next.Key != "k" || !bytes.Equal(next.Value, original.Value) {
		t.Error("expected key and payload to be unchanged")
	}
}
