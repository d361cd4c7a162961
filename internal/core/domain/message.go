package domain

// Header names carried on broker messages.
const (
	HeaderRetryCount    = "retryCount"
	HeaderMessageID     = "message-id"
	HeaderFailureReason = "failure-reason"
)

// Message is a single broker record. Published messages are never mutated;
// derived messages get their own header map.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// NewMessage builds a message with no headers.
func NewMessage(key string, value []byte) Message {
	return Message{Key: key, Value: value}
}

// Header returns the header value and whether it was present.
func (m Message) Header(name string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	v, ok := m.Headers[name]
	return v, ok
}

// WithHeader returns a copy of m with the header set.
func (m Message) WithHeader(name, value string) Message {
	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}
	headers[name] = value

	return Message{Key: m.Key, Value: m.Value, Headers: headers}
}

// WithoutHeader returns a copy of m with the header removed.
func (m Message) WithoutHeader(name string) Message {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		if k != name {
			headers[k] = v
		}
	}
	return Message{Key: m.Key, Value: m.Value, Headers: headers}
}

// MessageID returns the lineage correlation id, if any.
func (m Message) MessageID() string {
	id, _ := m.Header(HeaderMessageID)
	return id
}
