package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"swapline/internal/docstore"
	"swapline/internal/domain"
	"swapline/internal/events"
)

// challengeNamespace seeds deterministic challenge ids.
var challengeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("swapline:challenges"))

// ChallengeID is the id a template's challenge gets for one recurrence window.
func ChallengeID(templateID, periodKey string) string {
	return uuid.NewSHA1(challengeNamespace, []byte(templateID+"|"+periodKey)).String()
}

// GenerateFromTemplates creates one upcoming challenge for each of up to
// limit recurring templates and returns how many were created. With dedupe
// enabled a template yields at most one challenge per recurrence window, so
// repeated calls inside the window create nothing.
func (e Engine) GenerateFromTemplates(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = e.config().Recurrence.Limit
	}
	dedupe := e.config().Recurrence.Dedupe
	now := e.now()
	docs, err := e.query(ctx, docstore.Collection(domain.TemplatesCollection).
		Where("recurrence", docstore.In, domain.SupportedRecurrences).
		Take(limit))
	if err != nil {
		return 0, fmt.Errorf("query templates: %w", err)
	}

	b := e.Store.Batch()
	created := 0
	for _, doc := range docs {
		var tpl domain.ChallengeTemplate
		if err := doc.Decode(&tpl); err != nil {
			e.logger().Warn("skipping undecodable template", "template_id", doc.ID, "err", err)
			continue
		}
		interval, ok := RecurrenceInterval(tpl.Recurrence)
		if !ok {
			continue
		}
		start := now.Add(interval)
		end := start.Add(interval)
		key := PeriodKey(tpl.Recurrence, start)

		ch := domain.Challenge{
			TemplateID:  tpl.ID,
			Status:      domain.ChallengeUpcoming,
			Title:       tpl.Title,
			Description: tpl.Description,
			Category:    tpl.Category,
			Difficulty:  tpl.Difficulty,
			Rewards:     tpl.Rewards,
			StartDate:   start,
			EndDate:     end,
			CreatedBy:   events.SystemActor,
			PeriodKey:   key,
			CreatedAt:   &now,
		}
		if dedupe {
			ch.ID = ChallengeID(tpl.ID, key)
			exists, err := e.exists(ctx, domain.ChallengesCollection, ch.ID)
			if err != nil {
				return 0, fmt.Errorf("check challenge %s for template %s: %w", key, tpl.ID, err)
			}
			if exists {
				e.logger().Debug("challenge already generated for window", "template_id", tpl.ID, "period", key)
				continue
			}
			b.CreateIfMissing(domain.ChallengesCollection, ch.ID, ch)
		} else {
			ch.ID = uuid.NewString()
			b.Create(domain.ChallengesCollection, ch.ID, ch)
		}
		e.Events.Append(b, events.ChallengeGenerated, "challenge", ch.ID, events.Payload{
			"template_id": tpl.ID,
			"recurrence":  string(tpl.Recurrence),
			"period":      key,
		})
		created++
	}
	if created == 0 {
		return 0, nil
	}
	if err := e.commit(ctx, b); err != nil {
		return 0, fmt.Errorf("commit %d generated challenges: %w", created, err)
	}
	e.logger().Info("challenges generated", "count", created)
	return created, nil
}
