package mq

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/wip/internal/domain"
)

func TestParsePayload_TaskDue(t *testing.T) {
	msg := NewMessage(MessageTypeTaskDue, TaskDuePayload{TaskID: 42})
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Message
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != MessageTypeTaskDue || decoded.ID == "" {
		t.Fatalf("decoded = %+v", decoded)
	}

	p, err := ParsePayload[TaskDuePayload](&decoded)
	if err != nil {
		t.Fatal(err)
	}
	if p.TaskID != 42 {
		t.Errorf("task_id = %d, want 42", p.TaskID)
	}
}

func TestParsePayload_SignalReceived(t *testing.T) {
	id := uuid.New()
	msg := NewMessage(MessageTypeSignalReceived, SignalReceivedPayload{
		SignalID: id, TaskID: 7, Type: domain.SignalComplete,
	})
	body, _ := json.Marshal(msg)
	var decoded Message
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatal(err)
	}

	p, err := ParsePayload[SignalReceivedPayload](&decoded)
	if err != nil {
		t.Fatal(err)
	}
	if p.SignalID != id || p.TaskID != 7 || p.Type != domain.SignalComplete {
		t.Errorf("payload = %+v", p)
	}
}

func TestParsePayload_Mismatch(t *testing.T) {
	msg := &Message{Payload: map[string]any{"task_id": "not-a-number"}}
	if _, err := ParsePayload[TaskDuePayload](msg); err == nil {
		t.Error("expected error")
	}
}
