package shipments

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/angelmondragon/orderflow-backend/internal/normalize"
)

// FilterEvents keeps only checkpoints that carry both a status code and an
// occurrence time.
func FilterEvents(events []normalize.TrackingEvent) []normalize.TrackingEvent {
	kept := make([]normalize.TrackingEvent, 0, len(events))
	for _, event := range events {
		if strings.TrimSpace(event.StatusCode) == "" || event.OccurredAt == nil || event.OccurredAt.IsZero() {
			continue
		}
		kept = append(kept, event)
	}
	return kept
}

// MergeEvents folds incoming checkpoints into the stored list, dropping exact
// repeats, ordered by occurrence time.
func MergeEvents(stored json.RawMessage, incoming []normalize.TrackingEvent) (json.RawMessage, bool, error) {
	var existing []normalize.TrackingEvent
	if len(stored) > 0 && string(stored) != "null" {
		if err := json.Unmarshal(stored, &existing); err != nil {
			existing = nil
		}
	}
	existing = FilterEvents(existing)
	seen := make(map[string]struct{}, len(existing))
	for _, event := range existing {
		seen[eventKey(event)] = struct{}{}
	}
	added := false
	for _, event := range FilterEvents(incoming) {
		key := eventKey(event)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		existing = append(existing, event)
		added = true
	}
	if !added {
		return stored, false, nil
	}
	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].OccurredAt.Before(*existing[j].OccurredAt)
	})
	merged, err := json.Marshal(existing)
	if err != nil {
		return nil, false, err
	}
	return merged, true, nil
}

func eventKey(event normalize.TrackingEvent) string {
	return strings.ToUpper(strings.TrimSpace(event.StatusCode)) + "|" + event.OccurredAt.UTC().Format("2006-01-02T15:04:05.999999999Z")
}
