package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"paystream/pkg/models"
)

// GetEventsByDate downloads and deserializes every archive file in one
// date partition, returned in timestamp order. Read-side support for
// ad-hoc queries; not on the write-critical path.
func (a *Archiver) GetEventsByDate(ctx context.Context, date time.Time) ([]models.RawEvent, error) {
	keys, err := a.store.List(ctx, a.partitionPrefix(date.UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to list partition: %w", err)
	}

	var events []models.RawEvent
	for _, key := range keys {
		data, err := a.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		decoded, err := deserializeEvents(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		events = append(events, decoded...)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// GetEventsByTimeRange enumerates the date partitions overlapping
// [start, end], filters by event timestamp and returns the result in
// timestamp order.
func (a *Archiver) GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]models.RawEvent, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end, start)
	}

	var events []models.RawEvent
	day := start.UTC().Truncate(24 * time.Hour)
	last := end.UTC().Truncate(24 * time.Hour)

	for !day.After(last) {
		dayEvents, err := a.GetEventsByDate(ctx, day)
		if err != nil {
			return nil, err
		}
		for _, ev := range dayEvents {
			if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
				continue
			}
			events = append(events, ev)
		}
		day = day.Add(24 * time.Hour)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func encodeMetadata(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(data)
}
