package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

func exportJSON(events []*Event) ([]byte, error) {
	if events == nil {
		events = []*Event{}
	}
	return json.MarshalIndent(events, "", "  ")
}

func exportNDJSON(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode audit event %d: %w", event.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func exportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "timestamp", "action", "status", "tenant_id", "actor_user_id", "target_user_id", "request_id", "message", "metadata"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		metadata := ""
		if event.Metadata != nil {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal metadata for event %d: %w", event.ID, err)
			}
			metadata = string(raw)
		}

		record := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format(time.RFC3339),
			string(event.Action),
			string(event.Status),
			formatNullableID(event.TenantID),
			formatNullableID(event.ActorUserID),
			formatNullableID(event.TargetUserID),
			event.RequestID,
			event.Message,
			metadata,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func formatNullableID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
