package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DedupKeyLayout is the minute-granularity UTC layout of a dedup key
const DedupKeyLayout = "2006-01-02T15:04"

// DedupKey derives the idempotency key of an occurrence
func DedupKey(at time.Time) string {
	return at.UTC().Truncate(time.Minute).Format(DedupKeyLayout)
}

// Button is an inline action button. On the wire it is a [label, action_id] pair.
type Button struct {
	Label  string
	Action string
}

func (b Button) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{b.Label, b.Action})
}

func (b *Button) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed to decode button: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("button must be a [label, action_id] pair, got %d items", len(pair))
	}
	b.Label, b.Action = pair[0], pair[1]
	return nil
}

// FireEvent is the delivery request published on the bus
type FireEvent struct {
	ReminderID int64    `json:"reminder_id"`
	ChatID     int64    `json:"chat_id"`
	Text       string   `json:"text"`
	Buttons    []Button `json:"buttons"`
	Silent     bool     `json:"silent"`
	DedupKey   string   `json:"dedup_key"`
}

// Encode serializes the event to its JSON wire form
func (e *FireEvent) Encode() ([]byte, error) {
	if e.Buttons == nil {
		e.Buttons = []Button{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fire event: %w", err)
	}
	return data, nil
}

// DecodeFireEvent parses a JSON wire payload
func DecodeFireEvent(data []byte) (*FireEvent, error) {
	var e FireEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fire event: %w", err)
	}
	if e.ChatID == 0 {
		return nil, errors.New("fire event has no chat_id")
	}
	return &e, nil
}

// Message converts the event into an outbound chat message
func (e *FireEvent) Message() *Message {
	return &Message{
		ChatID:              e.ChatID,
		Text:                e.Text,
		Keyboard:            KeyboardRows(e.Buttons),
		DisableNotification: e.Silent,
	}
}

// Message is a send-text-message call to the messaging API
type Message struct {
	ChatID              int64
	Text                string
	Keyboard            [][]Button
	DisableNotification bool
}

const buttonsPerRow = 2

// KeyboardRows groups buttons in order, at most two per row
func KeyboardRows(buttons []Button) [][]Button {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]Button, 0, (len(buttons)+buttonsPerRow-1)/buttonsPerRow)
	for i := 0; i < len(buttons); i += buttonsPerRow {
		end := i + buttonsPerRow
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	return rows
}
