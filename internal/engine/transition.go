package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapline/internal/config"
	"swapline/internal/docstore"
	"swapline/internal/events"
)

// ApplyAgeCutoffTransition moves every document in collection whose status is
// sourceStatus and whose dateField is at or before cutoff to targetStatus,
// merging extraFields into each update. All updates commit in one batch, so
// the returned count is either every match or zero.
func (e Engine) ApplyAgeCutoffTransition(ctx context.Context, collection, sourceStatus, dateField string, cutoff time.Time, targetStatus string, extraFields map[string]any) (int, error) {
	if sourceStatus == targetStatus {
		return 0, fmt.Errorf("transition %s: source and target status are both %q", collection, sourceStatus)
	}
	docs, err := e.query(ctx, docstore.Collection(collection).
		Where("status", docstore.Eq, sourceStatus).
		Where(dateField, docstore.Lte, cutoff))
	if err != nil {
		return 0, fmt.Errorf("query %s in %s: %w", collection, sourceStatus, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	b := e.Store.Batch()
	for _, doc := range docs {
		fields := make(map[string]any, len(extraFields)+1)
		for k, v := range extraFields {
			fields[k] = v
		}
		fields["status"] = targetStatus
		b.Update(collection, doc.ID, fields)
		e.Events.Append(b, events.StatusTransitioned, collection, doc.ID, events.Payload{
			"from":       sourceStatus,
			"to":         targetStatus,
			"date_field": dateField,
		})
	}
	if err := e.commit(ctx, b); err != nil {
		return 0, fmt.Errorf("commit %d %s transitions %s->%s: %w", len(docs), collection, sourceStatus, targetStatus, err)
	}
	return len(docs), nil
}

type TransitionSummary struct {
	Total  int            `json:"total"`
	ByRule map[string]int `json:"by_rule"`
}

// RunTransitions applies every enabled configured rule against one captured
// now. A failing rule does not stop the others.
func (e Engine) RunTransitions(ctx context.Context) (TransitionSummary, error) {
	sum := TransitionSummary{ByRule: map[string]int{}}
	now := e.now()
	var errs []error
	for _, rule := range e.config().Transitions {
		if rule.Disabled {
			continue
		}
		n, err := e.ApplyAgeCutoffTransition(ctx, rule.Collection, rule.From, rule.DateField,
			Cutoff(now, rule.After), rule.To, ruleFields(rule))
		sum.ByRule[rule.Name] = n
		sum.Total += n
		if err != nil {
			e.logger().Error("transition failed", "rule", rule.Name, "err", err)
			errs = append(errs, fmt.Errorf("transition %s: %w", rule.Name, err))
			continue
		}
		if n > 0 {
			e.logger().Info("transition applied", "rule", rule.Name, "count", n)
		}
	}
	return sum, errors.Join(errs...)
}

func ruleFields(rule config.TransitionRule) map[string]any {
	fields := make(map[string]any, len(rule.Set)+1)
	for k, v := range rule.Set {
		fields[k] = v
	}
	fields["lastUpdatedAt"] = docstore.ServerTimestamp
	return fields
}
