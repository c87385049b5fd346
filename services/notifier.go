package services

import (
	"time"

	"game-economy/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type EventType string

const (
	EventRewardCredited    EventType = "economy:reward_credited"
	EventTournamentSettled EventType = "economy:tournament_settled"
)

// Event is a fire-and-forget notification about a committed economy change.
type Event struct {
	Type         EventType       `json:"type"`
	Account      string          `json:"account,omitempty"`
	TournamentID string          `json:"tournament_id,omitempty"`
	Currency     models.Currency `json:"currency,omitempty"`
	Amount       int64           `json:"amount,omitempty"`
	Source       string          `json:"source,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Message      string          `json:"message"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Notifier accepts events after the change they describe has committed.
// Publish must not block and must not fail the caller.
type Notifier interface {
	Publish(Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

// NopNotifier discards every event.
var NopNotifier Notifier = nopNotifier{}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders n with thousands separators, e.g. 12,500.
func FormatAmount(n int64) string {
	return amountPrinter.Sprintf("%d", n)
}

func rewardCreditedEvent(tx *models.CoinTransaction) Event {
	return Event{
		Type:       EventRewardCredited,
		Account:    tx.AccountAddress,
		Currency:   tx.Currency,
		Amount:     tx.Amount,
		Source:     string(tx.Source),
		Reference:  tx.Reference,
		Message:    amountPrinter.Sprintf("You received %s %s coins", FormatAmount(tx.Amount), tx.Currency),
		OccurredAt: tx.CreatedAt,
	}
}
