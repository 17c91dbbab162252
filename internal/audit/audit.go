// Package audit implements the append-only operator-action history of
// spec.md §4.K: a closed-variant Action taxonomy where each action
// specifies a required Target shape and Data shape, written asynchronously
// by a buffered background writer. Grounded on the deleted teacher
// internal/audit/audit.go's buffered-channel-plus-ticker writer, rewritten
// against row-scoped project_id (see DESIGN.md Open Question OQ-1) instead
// of tenant-schema fan-out, and against the closed taxonomy instead of
// free-form (action, resource) strings.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/clawlets/controlplane/internal/clock"
	"github.com/clawlets/controlplane/internal/db"
)

// Action is one member of the closed taxonomy spec.md §4.K requires.
// Unknown actions are logged by sanitizeShape and their data passed through
// unchanged.
type Action string

const (
	ActionProjectCreate        Action = "project.create"
	ActionProjectMemberAdd     Action = "project.members.add"
	ActionProjectMemberRemove  Action = "project.members.remove"
	ActionRunnerTokenMint      Action = "runner.token.mint"
	ActionRunnerTokenRevoke    Action = "runner.token.revoke"
	ActionProjectDeleteStart   Action = "project.deleteStart"
	ActionProjectDeleteConfirm Action = "project.deleteConfirm"
	ActionDeployCredsUpdate    Action = "deployCreds.update"
	ActionSopsOperatorKeyGen   Action = "sops.operatorKey.generate"
)

// requiredTargetKeys and allowedDataKeys describe each action's shape.
// Data keys absent from allowedDataKeys are stripped by sanitizeShape
// ("unknown keys are rejected", spec.md §4.K).
var requiredTargetKeys = map[Action][]string{
	ActionProjectCreate:        {"kind", "id"},
	ActionProjectMemberAdd:     {"kind", "project_id", "user_id"},
	ActionProjectMemberRemove:  {"kind", "project_id", "user_id"},
	ActionRunnerTokenMint:      {"kind", "project_id", "runner_id"},
	ActionRunnerTokenRevoke:    {"kind", "project_id", "token_id"},
	ActionProjectDeleteStart:   {"kind", "id"},
	ActionProjectDeleteConfirm: {"kind", "id"},
	ActionDeployCredsUpdate:    {"kind", "project_id", "host_name"},
	ActionSopsOperatorKeyGen:   {"kind", "operator_id"},
}

var allowedDataKeys = map[Action][]string{
	ActionProjectCreate:        {"name", "execution_mode"},
	ActionProjectMemberAdd:     {"role"},
	ActionProjectMemberRemove:  {},
	ActionRunnerTokenMint:      {"prefix"},
	ActionRunnerTokenRevoke:    {},
	ActionProjectDeleteStart:   {},
	ActionProjectDeleteConfirm: {"job_id"},
	ActionDeployCredsUpdate:    {"operator_id", "updated_keys"},
	ActionSopsOperatorKeyGen:   {"operator_id", "key_id"},
}

// boundedStringArrayKeys names Data keys whose value is a string array
// capped at 200 items of 256 chars each (spec.md §4.K).
var boundedStringArrayKeys = map[string]bool{"updated_keys": true}

// pathFieldKeys names Data/Target keys holding a repo-relative path,
// validated against spec.md §4.K's traversal/absolute-path ban.
var pathFieldKeys = map[string]bool{}

const (
	maxBoundedArrayItems = 200
	maxBoundedItemLen    = 256
)

// Entry is a single audit log row (spec.md §3 "Audit log entry").
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	TS        time.Time      `json:"ts"`
	UserID    string         `json:"user_id"`
	ProjectID *uuid.UUID     `json:"project_id,omitempty"`
	Action    Action         `json:"action"`
	Target    map[string]any `json:"target,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// redactedActions have their stored Data rewritten on read, hashing any
// bare operator id (spec.md §4.K: "deployCreds.update, sops.operatorKey.
// generate have their stored data rewritten to a fixed safe shape").
var redactedActions = map[Action]bool{
	ActionDeployCredsUpdate:  true,
	ActionSopsOperatorKeyGen: true,
}

// sanitizeForRead applies the fixed-safe-shape rewrite to e.Data in place,
// called by Store.List before returning rows to callers.
func sanitizeForRead(e Entry) Entry {
	if !redactedActions[e.Action] || e.Data == nil {
		return e
	}
	out := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		if k == "operator_id" {
			if s, ok := v.(string); ok && s != "" {
				out["operator_id_hash"] = clock.SHA256Hex(s)
				continue
			}
		}
		out[k] = v
	}
	e.Data = out
	return e
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Recorder is an async, buffered audit log writer. Call Start to begin
// processing entries and Close to drain on shutdown. Satisfies the narrow
// AuditRecorder collaborator interfaces pkg/erasure, pkg/project, and
// pkg/runner declare locally (avoiding an import cycle back into this
// package).
type Recorder struct {
	dbtx    db.DBTX
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder. Call Start to begin the flush loop.
func NewRecorder(dbtx db.DBTX, logger *slog.Logger) *Recorder {
	return &Recorder{
		dbtx:    dbtx,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background flush goroutine.
func (w *Recorder) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting entries and waits for the final flush.
func (w *Recorder) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Record enqueues an audit entry for async writing, matching the erasure
// engine's AuditRecorder and pkg/project/pkg/runner's equivalents. It
// never blocks or returns an error: shape validation failures are logged
// and unknown keys are stripped rather than rejecting the whole write,
// since an audit trail that silently drops events is worse than one with a
// best-effort shape (spec.md §7 "ancillary tables... best-effort").
func (w *Recorder) Record(ctx context.Context, projectID uuid.UUID, actor, action string, data map[string]any) {
	a := Action(action)
	target := defaultTarget(a, projectID)
	data = sanitizeShape(a, data, w.logger)

	entry := Entry{
		TS:     clock.Now(),
		UserID: actor,
		Action: a,
		Target: target,
		Data:   data,
	}
	if projectID != uuid.Nil {
		entry.ProjectID = &projectID
	}

	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry", "action", action)
	}
}

// defaultTarget builds the Target shape most project-scoped actions need:
// {kind, project_id/id}. Actions whose target needs more than the project
// id (members, runners) expect callers to have already built a data blob
// naming the secondary key; Record still tags the project id so every
// entry is queryable by project.
func defaultTarget(a Action, projectID uuid.UUID) map[string]any {
	keys, ok := requiredTargetKeys[a]
	if !ok {
		return nil
	}
	t := map[string]any{}
	for _, k := range keys {
		switch k {
		case "kind":
			t["kind"] = targetKind(a)
		case "id", "project_id":
			if projectID != uuid.Nil {
				t[k] = projectID
			}
		}
	}
	return t
}

func targetKind(a Action) string {
	switch a {
	case ActionProjectCreate, ActionProjectDeleteStart, ActionProjectDeleteConfirm:
		return "project"
	case ActionProjectMemberAdd, ActionProjectMemberRemove:
		return "project_member"
	case ActionRunnerTokenMint:
		return "runner"
	case ActionRunnerTokenRevoke:
		return "runner_token"
	case ActionDeployCredsUpdate:
		return "host"
	case ActionSopsOperatorKeyGen:
		return "operator_key"
	default:
		return ""
	}
}

// sanitizeShape strips unknown Data keys, clips bounded string arrays, and
// validates path-shaped fields (spec.md §4.K). Unknown actions pass
// through unchanged but are logged, since the taxonomy is meant to be
// closed and a new action reaching here without a registered shape is a
// bug worth surfacing, not a reason to drop the audit row.
func sanitizeShape(a Action, data map[string]any, logger *slog.Logger) map[string]any {
	if data == nil {
		return nil
	}
	allowed, known := allowedDataKeys[a]
	if !known {
		logger.Warn("audit: unregistered action shape", "action", a)
		return data
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		if !allowedSet[k] {
			logger.Warn("audit: dropping unknown data key", "action", a, "key", k)
			continue
		}
		if boundedStringArrayKeys[k] {
			v = boundStringArray(v)
		}
		if pathFieldKeys[k] {
			if s, ok := v.(string); ok && !validRepoPath(s) {
				logger.Warn("audit: dropping invalid path field", "action", a, "key", k)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func boundStringArray(v any) any {
	arr, ok := v.([]string)
	if !ok {
		if raw, ok := v.([]any); ok {
			strs := make([]string, 0, len(raw))
			for _, item := range raw {
				if s, ok := item.(string); ok {
					strs = append(strs, s)
				}
			}
			arr = strs
		} else {
			return v
		}
	}
	if len(arr) > maxBoundedArrayItems {
		arr = arr[:maxBoundedArrayItems]
	}
	out := make([]string, len(arr))
	for i, s := range arr {
		if r := []rune(s); len(r) > maxBoundedItemLen {
			s = string(r[:maxBoundedItemLen])
		}
		out[i] = s
	}
	return out
}

// validRepoPath rejects a leading "/", a drive prefix ("C:"), ".."
// segments, and control characters (spec.md §4.K).
func validRepoPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	if len(p) >= 2 && p[1] == ':' {
		return false
	}
	for _, seg := range strings.Split(filepathSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	for _, r := range p {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func filepathSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// run is the background loop draining entries into batched DB writes.
func (w *Recorder) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Recorder) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		targetJSON, err := json.Marshal(e.Target)
		if err != nil {
			w.logger.Error("marshaling audit target", "error", err, "action", e.Action)
			continue
		}
		dataJSON, err := json.Marshal(e.Data)
		if err != nil {
			w.logger.Error("marshaling audit data", "error", err, "action", e.Action)
			continue
		}

		var pid pgtype.UUID
		if e.ProjectID != nil {
			pid = pgtype.UUID{Bytes: *e.ProjectID, Valid: true}
		}

		_, err = w.dbtx.Exec(ctx, `
			INSERT INTO audit_logs (ts, user_id, project_id, action, target, data)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.TS, e.UserID, pid, string(e.Action), targetJSON, dataJSON,
		)
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err, "action", e.Action)
		}
	}
}
