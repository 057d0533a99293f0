package server

import (
	"context"

	"swapline/internal/domain"
	"swapline/internal/events"
	"swapline/internal/runner"
)

const (
	tradesCollection        = domain.TradesCollection
	challengesCollection    = domain.ChallengesCollection
	notificationsCollection = domain.NotificationsCollection
)

type (
	tradeItem        = domain.Trade
	challengeItem    = domain.Challenge
	notificationItem = domain.Notification
	eventItem        = domain.Event
)

// Response payloads

type TradeList struct {
	Items []tradeItem `json:"items"`
}

type ChallengeList struct {
	Items []challengeItem `json:"items"`
}

type NotificationList struct {
	Items []notificationItem `json:"items"`
}

type EventList struct {
	Items []eventItem `json:"items"`
}

type TriggerOutput struct {
	Body runner.Summary
}

type TradeOutput struct {
	Body tradeItem
}

type TradeListOutput struct {
	Body TradeList
}

type ChallengeListOutput struct {
	Body ChallengeList
}

type NotificationListOutput struct {
	Body NotificationList
}

type EventListOutput struct {
	Body EventList
}

func recentEvents(ctx context.Context, q events.Querier, limit int) ([]eventItem, error) {
	items, err := events.Tail(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []eventItem{}
	}
	return items, nil
}
