package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/redact"
)

// RunEventInput is a single runner-reported log line before sanitation
// (spec.md §6 POST /runner/run-events/append-batch, §4.L
// sanitizeRunnerRunEventsForStorage).
type RunEventInput struct {
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Meta    json.RawMessage `json:"meta,omitempty"`
	Ts      *time.Time      `json:"ts,omitempty"`
}

var validEventPhases = map[string]bool{
	"plan": true, "apply": true, "setup": true, "teardown": true, "custom": true,
}

// sanitizeRunEvent implements sanitizeRunnerRunEventsForStorage's per-event
// half (spec.md §4.L): validate level, trim and redact the message, clamp
// length, validate optional meta's closed phase tag or exit-code range.
func sanitizeRunEvent(in RunEventInput) (level, message string, meta json.RawMessage, err error) {
	if !validEventLevels[in.Level] {
		return "", "", nil, apierr.Conflict("run event level must be one of debug, info, warn, error")
	}
	msg := strings.TrimSpace(in.Message)
	msg = redact.Message(msg)
	if r := []rune(msg); len(r) > maxRunEventMessage {
		msg = string(r[:maxRunEventMessage])
	}

	if in.Meta != nil {
		var parsed map[string]any
		if err := json.Unmarshal(in.Meta, &parsed); err != nil {
			return "", "", nil, apierr.Conflict("run event meta must be a JSON object")
		}
		if phase, ok := parsed["phase"].(string); ok && !validEventPhases[phase] {
			return "", "", nil, apierr.Conflict("run event meta.phase is not a recognized phase")
		}
		if code, ok := parsed["exitCode"].(float64); ok && (code < -1 || code > 255) {
			return "", "", nil, apierr.Conflict("run event meta.exitCode must be in [-1, 255]")
		}
	}

	return in.Level, msg, in.Meta, nil
}

// AppendRunEvents implements spec.md §6's run-events append-batch: sanitize
// up to 200 events and insert them for the given run.
func (s *Service) AppendRunEvents(ctx context.Context, projectID, runID uuid.UUID, events []RunEventInput) error {
	if len(events) == 0 {
		return nil
	}
	if len(events) > maxRunEventsPerBatch {
		return apierr.Conflict(fmt.Sprintf("run event batches are capped at %d events", maxRunEventsPerBatch))
	}

	store := NewStore(s.pool)
	if _, err := store.GetRun(ctx, projectID, runID); err != nil {
		return apierr.NotFound("run not found")
	}

	now := time.Now().UTC()
	rows := make([]RunEvent, 0, len(events))
	for _, in := range events {
		level, message, meta, err := sanitizeRunEvent(in)
		if err != nil {
			return err
		}
		ts := now
		if in.Ts != nil {
			ts = *in.Ts
		}
		rows = append(rows, RunEvent{
			ID:        uuid.New(),
			ProjectID: projectID,
			RunID:     runID,
			Level:     level,
			Message:   message,
			Meta:      meta,
			Timestamp: ts,
		})
	}

	if _, err := s.pool.Exec(ctx, buildRunEventInsert(len(rows)), flattenRunEventArgs(rows)...); err != nil {
		return fmt.Errorf("inserting run events: %w", err)
	}
	return nil
}

func buildRunEventInsert(n int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO run_events (id, project_id, run_id, level, message, meta, ts) VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
	}
	return sb.String()
}

func flattenRunEventArgs(rows []RunEvent) []any {
	args := make([]any, 0, len(rows)*7)
	for _, r := range rows {
		args = append(args, r.ID, r.ProjectID, r.RunID, r.Level, r.Message, r.Meta, r.Timestamp)
	}
	return args
}
