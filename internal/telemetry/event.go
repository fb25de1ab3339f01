package telemetry

import (
	"regexp"
	"strings"
	"time"
)

// Kind is the client-declared event type. Unknown kinds are kept verbatim.
type Kind string

const (
	KindKeystroke Kind = "keystroke"
	KindTyping    Kind = "typing"
	KindPaste     Kind = "paste"
)

// IsIncrementalEdit reports whether the kind describes typed input.
func (k Kind) IsIncrementalEdit() bool {
	return k == KindKeystroke || k == KindTyping
}

// IsDeclaredPaste reports whether the client itself labelled the event a paste.
func (k Kind) IsDeclaredPaste() bool {
	return k == KindPaste
}

// ServerFlag is set by the server only; client-supplied values are ignored.
type ServerFlag string

const (
	FlagNone                ServerFlag = ""
	FlagOutOfOrder          ServerFlag = "out_of_order_or_bad_timestamp"
	FlagServerDetectedPaste ServerFlag = "server_detected_paste"
)

// Event is one client-observed interaction as submitted.
type Event struct {
	SessionID  string  `json:"sessionId"`
	Kind       Kind    `json:"type"`
	Details    Details `json:"details"`
	ClientTime string  `json:"clientTime"`
}

// Batch is the envelope for a group of events from one session.
type Batch struct {
	SessionID string  `json:"sessionId"`
	Events    []Event `json:"events"`
}

// ClientInfo is request metadata attached at ingestion.
type ClientInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	DeviceType     string `json:"deviceType,omitempty"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
}

// Record is the normalized, annotated form of an Event. Records are immutable once stored.
type Record struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	UserID     string      `json:"userId,omitempty"`
	Kind       Kind        `json:"type"`
	Details    Details     `json:"details"`
	ClientTime string      `json:"clientTime"`
	ReceivedAt time.Time   `json:"receivedAt"`
	ServerFlag ServerFlag  `json:"serverFlag,omitempty"`
	Client     *ClientInfo `json:"client,omitempty"`
}

// ServerDetected reports whether the server classified the record as a paste.
func (r Record) ServerDetected() bool {
	return r.ServerFlag == FlagServerDetectedPaste
}

// FlaggedEntry is the reviewer-facing index entry for a suspicious record.
// It carries length and hash metadata only.
type FlaggedEntry struct {
	RecordID       string    `json:"recordId"`
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId,omitempty"`
	Kind           Kind      `json:"type"`
	TextLength     int       `json:"textLength"`
	TextHash       string    `json:"textHash,omitempty"`
	ServerDetected bool      `json:"serverDetected"`
}

// clientTimeLayouts covers the ISO-8601 shapes editors send, with and without an offset.
var clientTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseClientTime parses an ISO-8601 client timestamp. Values without an offset are
// taken as UTC.
func ParseClientTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range clientTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// ValidSessionID reports whether id can name a session. Ids are used as storage keys
// and file names, so path separators and dot-only names are rejected.
func ValidSessionID(id string) bool {
	if id == "." || id == ".." {
		return false
	}
	return sessionIDPattern.MatchString(id)
}
