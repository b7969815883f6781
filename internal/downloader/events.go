package downloader

// EventKind tags a status notification on a selection's outcome stream.
type EventKind string

const (
	// EventStatus reports a state-machine transition. The stream's final
	// event is always an EventStatus carrying a terminal status, except
	// when the stream ends with an EventChoice.
	EventStatus EventKind = "status"

	// EventChoice reports that the fetched video exceeds the transport
	// limit and the user must choose a fallback. The session stays live.
	EventChoice EventKind = "awaiting_choice"

	// EventLink carries a direct download link delivered in place of the
	// artifact.
	EventLink EventKind = "link"

	// EventNotice carries a user-facing informational message.
	EventNotice EventKind = "notice"
)

// Event is one notification on the outcome stream returned by Select and
// Fallback.
type Event struct {
	Kind      EventKind        `json:"kind"`
	Status    Status           `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	SizeBytes int64            `json:"size_bytes,omitempty"`
	Options   []FallbackChoice `json:"options,omitempty"`
	URL       string           `json:"url,omitempty"`
}

// emit sends ev on ch if a stream is attached. Internally finalized
// sessions (e.g. cancel with no active stream) pass a nil channel.
func emit(ch chan<- Event, ev Event) {
	if ch != nil {
		ch <- ev
	}
}
