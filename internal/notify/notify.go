// Package notify delivers fired reminder triggers to the user.
package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sandeepkv93/tasksched/internal/delivery"
	"github.com/sandeepkv93/tasksched/internal/model"
)

const (
	alarmMarker   = "⏰"
	reminderMark  = "🔔"
	redactedTitle = "Task reminder"
)

type Notifier interface {
	Notify(ctx context.Context, tr delivery.Trigger) error
}

// FormatMessage renders the user-facing text of a fired trigger. Titles of
// triggers that are not lock-screen visible are redacted.
func FormatMessage(tr delivery.Trigger) string {
	title := strings.TrimSpace(tr.Title)
	if !tr.LockScreenVisible || title == "" {
		title = redactedTitle
	}
	mark := reminderMark
	if tr.DeliveryMode == model.DeliveryAlarm {
		mark = alarmMarker
	}
	switch tr.OffsetMinutes {
	case 0:
		return fmt.Sprintf("%s %s is due now", mark, title)
	case 1:
		return fmt.Sprintf("%s %s is due in 1 minute", mark, title)
	default:
		return fmt.Sprintf("%s %s is due in %d minutes", mark, title, tr.OffsetMinutes)
	}
}

// LogNotifier writes fired reminders to a logger.
type LogNotifier struct {
	log *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(_ context.Context, tr delivery.Trigger) error {
	n.log.Info(FormatMessage(tr), "trigger", tr.Key.String(), "exact", tr.Exact,
		"fire_at", tr.FireAt.Format(model.DateLayout+" 15:04"))
	return nil
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts fired reminders to one chat.
type TelegramNotifier struct {
	api    sender
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, tr delivery.Trigger) error {
	msg := tgbotapi.NewMessage(n.chatID, html.EscapeString(FormatMessage(tr)))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableNotification = tr.DeliveryMode != model.DeliveryAlarm && !tr.Exact
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("notify: send telegram message: %w", err)
	}
	return nil
}

// Multi fans a trigger out to every notifier and reports the first failure.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, tr delivery.Trigger) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, tr); err != nil && first == nil {
			first = err
		}
	}
	return first
}
