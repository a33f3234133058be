package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sandeepkv93/tasksched/internal/delivery"
	"github.com/sandeepkv93/tasksched/internal/model"
)

func TestFormatMessage(t *testing.T) {
	cases := []struct {
		name string
		tr   delivery.Trigger
		want string
	}{
		{
			name: "visible notification",
			tr:   delivery.Trigger{Title: "Dentist", OffsetMinutes: 15, LockScreenVisible: true, DeliveryMode: model.DeliveryNotification},
			want: "🔔 Dentist is due in 15 minutes",
		},
		{
			name: "alarm due now",
			tr:   delivery.Trigger{Title: "Standup", LockScreenVisible: true, DeliveryMode: model.DeliveryAlarm},
			want: "⏰ Standup is due now",
		},
		{
			name: "redacted",
			tr:   delivery.Trigger{Title: "Therapy", OffsetMinutes: 1, DeliveryMode: model.DeliveryNotification},
			want: "🔔 Task reminder is due in 1 minute",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatMessage(tc.tr); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifierSendsToChat(t *testing.T) {
	api := &fakeSender{}
	n := &TelegramNotifier{api: api, chatID: 42}
	tr := delivery.Trigger{Key: delivery.KeyFor("inst", 0), Title: "Pay <rent>", LockScreenVisible: true, DeliveryMode: model.DeliveryAlarm, Exact: true}
	if err := n.Notify(context.Background(), tr); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(api.sent))
	}
	msg := api.sent[0]
	if msg.ChatID != 42 || msg.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("unexpected message config: %+v", msg)
	}
	if !strings.Contains(msg.Text, "Pay &lt;rent&gt;") {
		t.Fatalf("expected escaped title, got %q", msg.Text)
	}
	if msg.DisableNotification {
		t.Fatal("alarm messages must not be silent")
	}
}

func TestTelegramNotifierWrapsErrors(t *testing.T) {
	boom := errors.New("network down")
	n := &TelegramNotifier{api: &fakeSender{err: boom}, chatID: 1}
	if err := n.Notify(context.Background(), delivery.Trigger{Title: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestMultiNotifiesEveryone(t *testing.T) {
	var buf bytes.Buffer
	api := &fakeSender{}
	m := Multi{NewLogNotifier(log.New(&buf)), &TelegramNotifier{api: api, chatID: 7}}
	if err := m.Notify(context.Background(), delivery.Trigger{Key: delivery.KeyFor("a", 1), Title: "Gym", LockScreenVisible: true}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(buf.String(), "Gym is due now") {
		t.Fatalf("expected log line, got %q", buf.String())
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected telegram message, got %d", len(api.sent))
	}
}
