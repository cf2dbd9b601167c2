package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Detection run events
	EventDetectionStarted   EventType = "detection.started"
	EventDetectionCompleted EventType = "detection.completed"
	EventDetectionFailed    EventType = "detection.failed"

	// Sink events
	EventSinkReplaced EventType = "sink.replaced"
)

// Result represents the outcome of an audited step
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	EventType EventType `json:"event_type"`
	Result    Result    `json:"result"`

	// Run parameters
	Estimator string  `json:"estimator,omitempty"`
	Window    int     `json:"window,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`

	// Target
	Table       string                 `json:"table,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithRunID sets the detection run the event belongs to
func (e *Event) WithRunID(id string) *Event {
	e.RunID = id
	return e
}

// WithParams records the detection parameters
func (e *Event) WithParams(estimator string, window int, threshold float64) *Event {
	e.Estimator = estimator
	e.Window = window
	e.Threshold = threshold
	return e
}

// WithTable sets the table being written
func (e *Event) WithTable(table string) *Event {
	e.Table = table
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
