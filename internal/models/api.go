package models

// ErrorResponse is the uniform JSON error body for the HTTP API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Inbound event types produced by the transport layer.
const (
	EventTypeText  = "text"
	EventTypeImage = "image"
	EventTypeVoice = "voice"
)

// InboundEvent is a platform-agnostic inbound message, decoded from the raw
// webhook payload before it reaches the service layer.
type InboundEvent struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	EventType string `json:"event_type"`
	Text      string `json:"text"`

	// Set for image events only.
	FileID       string `json:"file_id,omitempty"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}

// ScheduleMessageRequest is the admin API body for creating a deferred
// message. Time accepts "HH:MM" or an explicit date format.
type ScheduleMessageRequest struct {
	UserID  int64  `json:"user_id"`
	Time    string `json:"time"`
	Content string `json:"content"`
}

// ScheduleMessageResponse reports the stored deferred message.
type ScheduleMessageResponse struct {
	ID            int64  `json:"id"`
	ScheduledTime int64  `json:"scheduled_time"`
	Content       string `json:"content"`
}

// ExportResponse wraps a serialized history dump.
type ExportResponse struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}
