package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapline/internal/config"
	"swapline/internal/docstore"
	"swapline/internal/domain"
	"swapline/internal/events"
	"swapline/internal/retry"
)

type Action string

const (
	ActionNone          Action = "none"
	ActionSkipped       Action = "skipped"
	ActionReminder      Action = "reminder"
	ActionReminderHeld  Action = "reminder_held"
	ActionAutoCompleted Action = "auto_completed"
)

// Outcome describes what one escalation pass did to one trade.
type Outcome struct {
	TradeID    string   `json:"trade_id"`
	Action     Action   `json:"action"`
	Reminder   int      `json:"reminder,omitempty"`
	Notified   []string `json:"notified,omitempty"`
	Failed     []string `json:"notify_failed,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
}

type EscalationSummary struct {
	Scanned        int `json:"scanned"`
	Skipped        int `json:"skipped"`
	Reminders      int `json:"reminders"`
	Held           int `json:"held"`
	AutoCompleted  int `json:"auto_completed"`
	NotifyFailures int `json:"notify_failures"`
	Failed         int `json:"failed"`
}

func (s *EscalationSummary) add(o Outcome) {
	switch o.Action {
	case ActionSkipped:
		s.Skipped++
	case ActionReminder:
		s.Reminders++
	case ActionReminderHeld:
		s.Held++
	case ActionAutoCompleted:
		s.AutoCompleted++
	}
	s.NotifyFailures += len(o.Failed)
}

// ProcessPendingTrades runs one escalation pass over every trade waiting for
// confirmation. A failed query fails the pass; a failure on one trade is
// collected and the pass continues.
func (e Engine) ProcessPendingTrades(ctx context.Context) (EscalationSummary, error) {
	var sum EscalationSummary
	now := e.now()
	docs, err := e.query(ctx, docstore.Collection(domain.TradesCollection).
		Where("status", docstore.Eq, domain.TradePendingConfirmation))
	if err != nil {
		return sum, fmt.Errorf("query pending trades: %w", err)
	}
	var errs []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sum.Scanned++
		var trade domain.Trade
		if err := doc.Decode(&trade); err != nil {
			e.logger().Warn("skipping undecodable trade", "trade_id", doc.ID, "err", err)
			sum.Skipped++
			continue
		}
		out, err := e.ProcessPendingTrade(ctx, trade, now)
		sum.add(out)
		if err != nil {
			sum.Failed++
			errs = append(errs, err)
		}
	}
	e.logger().Info("escalation pass finished",
		"scanned", sum.Scanned, "reminders", sum.Reminders, "auto_completed", sum.AutoCompleted,
		"held", sum.Held, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, errors.Join(errs...)
}

// ProcessPendingTrade applies at most one escalation tier to trade as of now.
// Tiers are checked most advanced first, so a trade that aged past several
// thresholds unnoticed gets only the most urgent one.
func (e Engine) ProcessPendingTrade(ctx context.Context, trade domain.Trade, now time.Time) (Outcome, error) {
	out := Outcome{TradeID: trade.ID, Action: ActionNone}
	log := e.logger().With("trade_id", trade.ID)

	if trade.Status != domain.TradePendingConfirmation {
		return skip(out, "not pending confirmation"), nil
	}
	if trade.CompletionRequestedAt == nil || trade.CompletionRequestedAt.IsZero() || trade.CompletionRequestedBy == "" {
		log.Debug("completion request not fully recorded; skipping")
		return skip(out, "completion request incomplete"), nil
	}
	recipient := trade.Counterparty()
	if recipient == "" {
		log.Warn("cannot resolve confirmation recipient; skipping", "requested_by", trade.CompletionRequestedBy)
		return skip(out, "recipient unresolved"), nil
	}

	cfg := e.config().Escalation
	requestedAt := *trade.CompletionRequestedAt
	if AtLeastDays(requestedAt, now, cfg.AutoCompleteAfterDays) {
		return e.autoComplete(ctx, trade, requestedAt, now, out)
	}
	tier, ok := dueTier(cfg.Tiers, requestedAt, now, trade.RemindersSent)
	if !ok {
		return out, nil
	}
	return e.sendReminder(ctx, trade, recipient, tier, requestedAt, now, out)
}

// dueTier picks the most advanced tier whose age threshold has passed and
// whose reminder has not been sent yet.
func dueTier(tiers []config.Tier, requestedAt, now time.Time, sent int) (config.Tier, bool) {
	for i := len(tiers) - 1; i >= 0; i-- {
		t := tiers[i]
		if AtLeastDays(requestedAt, now, t.Days) && sent < t.Reminder {
			return t, true
		}
	}
	return config.Tier{}, false
}

func skip(out Outcome, reason string) Outcome {
	out.Action = ActionSkipped
	out.SkipReason = reason
	return out
}

func (e Engine) sendReminder(ctx context.Context, trade domain.Trade, recipient string, tier config.Tier, requestedAt, now time.Time, out Outcome) (Outcome, error) {
	cfg := e.config().Escalation
	out.Reminder = tier.Reminder
	priority := domain.Priority(tier.Priority)
	if priority == "" {
		priority = domain.PriorityNormal
	}
	err := e.emit(ctx, domain.Notification{
		UserID:    recipient,
		Type:      domain.NotifyTradeReminder,
		Title:     tier.Title,
		Content:   tier.Content,
		RelatedID: trade.ID,
		Priority:  priority,
	})
	if err != nil {
		out.Failed = append(out.Failed, recipient)
		e.logger().Warn("reminder emission failed", "trade_id", trade.ID, "reminder", tier.Reminder, "user_id", recipient, "err", err)
		if !cfg.AdvanceOnNotifyFailure {
			// The counter stays put so the next pass retries this tier.
			out.Action = ActionReminderHeld
			return out, nil
		}
	} else {
		out.Notified = append(out.Notified, recipient)
	}

	b := e.Store.Batch()
	b.Update(domain.TradesCollection, trade.ID, map[string]any{
		"remindersSent":  tier.Reminder,
		"lastReminderAt": now,
		"lastUpdatedAt":  docstore.ServerTimestamp,
	})
	e.Events.Append(b, events.TradeReminderSent, "trade", trade.ID, events.Payload{
		"reminder":     tier.Reminder,
		"days_pending": DaysElapsed(requestedAt, now),
		"recipient":    recipient,
		"delivered":    err == nil,
	})
	if err := e.commit(ctx, b); err != nil {
		return out, &EntityError{Collection: domain.TradesCollection, ID: trade.ID, Err: fmt.Errorf("record reminder %d: %w", tier.Reminder, err)}
	}
	out.Action = ActionReminder
	return out, nil
}

// autoComplete writes the terminal state first and then tells both parties,
// so nobody hears about a completion that was never stored.
func (e Engine) autoComplete(ctx context.Context, trade domain.Trade, requestedAt, now time.Time, out Outcome) (Outcome, error) {
	cfg := e.config().Escalation
	b := e.Store.Batch()
	b.Update(domain.TradesCollection, trade.ID, map[string]any{
		"status":                domain.TradeCompleted,
		"autoCompleted":         true,
		"autoCompletedReason":   cfg.AutoCompleteReason,
		"completionConfirmedAt": docstore.ServerTimestamp,
		"lastUpdatedAt":         docstore.ServerTimestamp,
	})
	e.Events.Append(b, events.TradeAutoCompleted, "trade", trade.ID, events.Payload{
		"reason":         cfg.AutoCompleteReason,
		"days_pending":   DaysElapsed(requestedAt, now),
		"reminders_sent": trade.RemindersSent,
	})
	if err := e.commit(ctx, b); err != nil {
		return out, &EntityError{Collection: domain.TradesCollection, ID: trade.ID, Err: fmt.Errorf("auto-complete: %w", err)}
	}
	out.Action = ActionAutoCompleted

	for _, party := range trade.Parties() {
		err := e.emit(ctx, domain.Notification{
			UserID:    party,
			Type:      domain.NotifyTradeAutoCompleted,
			Title:     cfg.AutoCompleteTitle,
			Content:   cfg.AutoCompleteContent,
			RelatedID: trade.ID,
			Priority:  domain.PriorityNormal,
		})
		if err != nil {
			out.Failed = append(out.Failed, party)
			e.logger().Warn("auto-complete notification failed", "trade_id", trade.ID, "user_id", party, "err", err)
			continue
		}
		out.Notified = append(out.Notified, party)
	}
	return out, nil
}

func (e Engine) emit(ctx context.Context, n domain.Notification) error {
	if e.Emitter == nil {
		return errors.New("no notification emitter configured")
	}
	return e.retryPolicy().Run(ctx, func(ctx context.Context) error {
		err := e.Emitter.Emit(ctx, n)
		if err != nil && !isTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}
