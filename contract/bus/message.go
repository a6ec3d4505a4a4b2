package bus

// Header keys shared by the broker and every adapter. Keep stable; they travel on the wire.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderReplyTo       = "reply-to"
	HeaderKey           = "key"
	HeaderErrorCode     = "error-code"
	HeaderErrorMessage  = "error-message"
	HeaderContentType   = "content-type"
)

// ContentTypeJSON is the only payload encoding produced by the broker.
const ContentTypeJSON = "application/json"

// Message is a keyed payload addressed to a destination.
// Key selects the partition where the transport has partitions; metadata travels in Headers.
type Message struct {
	Destination string
	Key         string
	Payload     []byte
	Headers     map[string]string
}

// Header returns the header value or "" when absent.
func (m Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}

	return m.Headers[key]
}

// CloneHeaders copies the header map so callers can mutate it without
// touching the message another goroutine may still hold.
func (m Message) CloneHeaders() map[string]string {
	h := make(map[string]string, len(m.Headers)+2)
	for k, v := range m.Headers {
		h[k] = v
	}

	return h
}
