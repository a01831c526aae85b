package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Session is a server-assigned conversation identity.
type Session struct {
	ID        int64     `json:"id"`
	CreatedAt Timestamp `json:"created_at"`
}

// Timestamp accepts both RFC 3339 and the zone-less ISO form that Python backends emit
// for naive UTC datetimes.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	return fmt.Errorf("unsupported timestamp format %q", raw)
}
