package events

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/nalgeon/be"
)

func TestEncode(t *testing.T) {
	ev := New(SyncCompleted, "acc-1", "log-1")
	ev.Count = 12

	subject, payload, err := encode(ev)
	be.Err(t, err, nil)
	be.Equal(t, subject, "mailsync.sync.completed")

	var decoded map[string]any
	be.Err(t, json.Unmarshal(payload, &decoded), nil)
	be.Equal(t, decoded["account_id"], any("acc-1"))
	be.Equal(t, decoded["subject_id"], any("log-1"))
	be.Equal(t, decoded["count"], any(float64(12)))
}

func TestEncode_RequiresType(t *testing.T) {
	_, _, err := encode(Event{AccountID: "acc-1"})
	be.True(t, err != nil)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	be.Err(t, p.Publish(context.Background(), New(ActionFailed, "", "a-1")), nil)
	p.Close()
}
