package service

import (
	"strings"

	"reminder-service/internal/domain/entity"
)

const (
	weightText  = "🔔 Напоминание: встань на весы."
	mealText    = "🍽 Пора поесть. Заполни приём пищи."
	defaultText = "Напоминание"
)

// Template is the rendered text and buttons of a reminder notification
type Template struct {
	Text    string
	Buttons []entity.Button
	Silent  bool
}

// Render builds the notification for a kind and optional title. No I/O.
func Render(kind entity.Kind, title string) Template {
	t := Template{Silent: true}

	switch kind {
	case entity.KindWeight:
		t.Text = weightText
		t.Buttons = []entity.Button{
			{Label: "✏️ Обновить вес", Action: "act:weight:edit"},
			{Label: "⏰ Отложить 15", Action: "snooze:15"},
			{Label: "⏰ 30", Action: "snooze:30"},
			{Label: "⏰ 60", Action: "snooze:60"},
		}
	case entity.KindMeal:
		t.Text = mealText
		t.Buttons = mealButtons()
	case entity.KindCustomDaily, entity.KindCustomWeekly, entity.KindOneoff:
		t.Text = strings.TrimSpace(title)
		if t.Text == "" {
			t.Text = defaultText
		}
		t.Buttons = mealButtons()
	default:
		t.Text = defaultText
	}
	return t
}

func mealButtons() []entity.Button {
	return []entity.Button{
		{Label: "➕ Записать питание", Action: "act:meal:add"},
		{Label: "⏰ 15", Action: "snooze:15"},
		{Label: "⏰ 30", Action: "snooze:30"},
		{Label: "⏰ 60", Action: "snooze:60"},
	}
}

// BuildFireEvent renders the delivery request for one claimed occurrence
func BuildFireEvent(r *entity.Reminder, dedupKey string) *entity.FireEvent {
	t := Render(r.Kind, r.Title)
	return &entity.FireEvent{
		ReminderID: r.ID,
		ChatID:     r.ChatID,
		Text:       t.Text,
		Buttons:    t.Buttons,
		Silent:     t.Silent,
		DedupKey:   dedupKey,
	}
}
