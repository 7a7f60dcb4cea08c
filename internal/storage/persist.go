package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucaspimentel/pscue/internal/graph"
	"github.com/lucaspimentel/pscue/internal/history"
	"github.com/lucaspimentel/pscue/internal/jump"
	"github.com/lucaspimentel/pscue/internal/sequence"
)

// LoadState reads the full persisted model. An empty database yields an
// empty (not nil) state.
func (s *SQLiteStore) LoadState(ctx context.Context) (*State, error) {
	state := &State{
		Graph:    &graph.Snapshot{Verbs: make(map[string]graph.VerbSnapshot)},
		Sequence: &sequence.Snapshot{Transitions: make(map[string]map[string]int)},
		Dirs:     make(map[string]jump.FrecencyStat),
	}

	if err := s.loadUsage(ctx, state.Graph); err != nil {
		return nil, err
	}
	if err := s.loadParamValues(ctx, state.Graph); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, state); err != nil {
		return nil, err
	}
	if err := s.loadSequence(ctx, state.Sequence); err != nil {
		return nil, err
	}
	if err := s.loadDirs(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLiteStore) loadUsage(ctx context.Context, snap *graph.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verb, token, is_flag, count, last_used_unix_ms, cooccur_json
		FROM usage_stats
	`)
	if err != nil {
		return fmt.Errorf("failed to load usage stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var verb, token, coJSON string
		var isFlag bool
		var count int
		var lastMs int64
		if err := rows.Scan(&verb, &token, &isFlag, &count, &lastMs, &coJSON); err != nil {
			return err
		}
		stat := graph.ArgStat{
			Count:    count,
			LastUsed: msToTime(lastMs),
			IsFlag:   isFlag,
		}
		if coJSON != "" && coJSON != "{}" {
			if err := json.Unmarshal([]byte(coJSON), &stat.CoOccur); err != nil {
				// Best-effort bookkeeping; a bad blob loses descriptions,
				// not counts.
				s.logger.Warn("discarding unreadable co-occurrence blob", "verb", verb, "token", token, "error", err)
			}
		}
		vs := snap.Verbs[verb]
		if vs.Args == nil {
			vs.Args = make(map[string]graph.ArgStat)
		}
		vs.Args[token] = stat
		snap.Verbs[verb] = vs
	}
	return rows.Err()
}

func (s *SQLiteStore) loadParamValues(ctx context.Context, snap *graph.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verb, flag, value, count, last_used_unix_ms FROM param_values
	`)
	if err != nil {
		return fmt.Errorf("failed to load parameter values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var verb, flag, value string
		var count int
		var lastMs int64
		if err := rows.Scan(&verb, &flag, &value, &count, &lastMs); err != nil {
			return err
		}
		vs := snap.Verbs[verb]
		if vs.Args == nil {
			vs.Args = make(map[string]graph.ArgStat)
		}
		if vs.ParamValues == nil {
			vs.ParamValues = make(map[string]map[string]graph.ArgStat)
		}
		if vs.ParamValues[flag] == nil {
			vs.ParamValues[flag] = make(map[string]graph.ArgStat)
		}
		vs.ParamValues[flag][value] = graph.ArgStat{
			Count:    count,
			LastUsed: msToTime(lastMs),
		}
		snap.Verbs[verb] = vs
	}
	return rows.Err()
}

func (s *SQLiteStore) loadHistory(ctx context.Context, state *State) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command_id, verb, full_line, args_json, success, ts_unix_ms
		FROM command_history ORDER BY ts_unix_ms ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec history.Record
		var argsJSON string
		var tsMs int64
		if err := rows.Scan(&rec.CommandID, &rec.Verb, &rec.FullLine, &argsJSON, &rec.Success, &tsMs); err != nil {
			return err
		}
		rec.At = msToTime(tsMs)
		if argsJSON != "" && argsJSON != "[]" {
			if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
				return fmt.Errorf("failed to decode history args: %w", err)
			}
		}
		state.History = append(state.History, rec)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSequence(ctx context.Context, snap *sequence.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gram_key, next_verb, count FROM transitions
	`)
	if err != nil {
		return fmt.Errorf("failed to load transitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, next string
		var count int
		if err := rows.Scan(&key, &next, &count); err != nil {
			return err
		}
		if snap.Transitions[key] == nil {
			snap.Transitions[key] = make(map[string]int)
		}
		snap.Transitions[key][next] = count
	}
	if err := rows.Err(); err != nil {
		return err
	}

	wfRows, err := s.db.QueryContext(ctx, `
		SELECT steps_json, occurrences, avg_gap_ms, last_seen_unix_ms FROM workflows
	`)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}
	defer wfRows.Close()

	for wfRows.Next() {
		var stepsJSON string
		var occurrences int
		var gapMs, lastMs int64
		if err := wfRows.Scan(&stepsJSON, &occurrences, &gapMs, &lastMs); err != nil {
			return err
		}
		wf := sequence.Workflow{
			Occurrences: occurrences,
			AvgStepGap:  time.Duration(gapMs) * time.Millisecond,
			LastSeen:    msToTime(lastMs),
		}
		if err := json.Unmarshal([]byte(stepsJSON), &wf.Steps); err != nil {
			return fmt.Errorf("failed to decode workflow steps: %w", err)
		}
		snap.Workflows = append(snap.Workflows, wf)
	}
	return wfRows.Err()
}

func (s *SQLiteStore) loadDirs(ctx context.Context, state *State) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, visits, last_visit_unix_ms FROM dir_visits
	`)
	if err != nil {
		return fmt.Errorf("failed to load directory visits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var visits int
		var lastMs int64
		if err := rows.Scan(&path, &visits, &lastMs); err != nil {
			return err
		}
		state.Dirs[path] = jump.FrecencyStat{Visits: visits, LastVisit: msToTime(lastMs)}
	}
	return rows.Err()
}

// ApplyDelta persists one batch of learning inside a single transaction.
// Every write is additive (count = count + 1 style), so deltas flushed
// by concurrent sessions sum instead of overwriting each other.
func (s *SQLiteStore) ApplyDelta(ctx context.Context, d *Delta) error {
	if d.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delta transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, u := range d.Usage {
		if err := applyUsage(ctx, tx, u); err != nil {
			return err
		}
	}
	for _, pv := range d.ParamValues {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO param_values (verb, flag, value, count, last_used_unix_ms)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(verb, flag, value) DO UPDATE SET
				count = count + 1,
				last_used_unix_ms = MAX(last_used_unix_ms, excluded.last_used_unix_ms)
		`, pv.Verb, pv.Flag, pv.Value, pv.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to persist parameter value: %w", err)
		}
	}
	for _, rec := range d.History {
		argsJSON, err := json.Marshal(rec.Args)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO command_history (command_id, verb, full_line, args_json, success, ts_unix_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.CommandID, rec.Verb, rec.FullLine, string(argsJSON), rec.Success, rec.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to persist history record: %w", err)
		}
	}
	for _, tr := range d.Transitions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transitions (gram_key, next_verb, count)
			VALUES (?, ?, 1)
			ON CONFLICT(gram_key, next_verb) DO UPDATE SET count = count + 1
		`, tr.Key, tr.Next)
		if err != nil {
			return fmt.Errorf("failed to persist transition: %w", err)
		}
	}
	for _, wf := range d.Workflows {
		stepsJSON, err := json.Marshal(wf.Steps)
		if err != nil {
			return err
		}
		// Fold the run into the stored running mean; assignment RHS
		// reads the pre-update row.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflows (steps_json, occurrences, avg_gap_ms, last_seen_unix_ms)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(steps_json) DO UPDATE SET
				avg_gap_ms = (avg_gap_ms * occurrences + excluded.avg_gap_ms) / (occurrences + 1),
				occurrences = occurrences + 1,
				last_seen_unix_ms = MAX(last_seen_unix_ms, excluded.last_seen_unix_ms)
		`, string(stepsJSON), wf.MeanGap.Milliseconds(), wf.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to persist workflow: %w", err)
		}
	}
	for _, dv := range d.DirVisits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dir_visits (path, visits, last_visit_unix_ms)
			VALUES (?, 1, ?)
			ON CONFLICT(path) DO UPDATE SET
				visits = visits + 1,
				last_visit_unix_ms = MAX(last_visit_unix_ms, excluded.last_visit_unix_ms)
		`, dv.Path, dv.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to persist directory visit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delta: %w", err)
	}
	return nil
}

func applyUsage(ctx context.Context, tx *sql.Tx, u UsageDelta) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO usage_stats (verb, token, is_flag, count, last_used_unix_ms)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(verb, token) DO UPDATE SET
			count = count + 1,
			last_used_unix_ms = MAX(last_used_unix_ms, excluded.last_used_unix_ms)
	`, u.Verb, u.Token, u.IsFlag, u.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to persist usage: %w", err)
	}

	if len(u.CoOccur) == 0 {
		return nil
	}

	// Co-occurrence is a best-effort blob: read, merge, write back
	// within the transaction. Concurrent sessions may clobber each
	// other's blob merges; counts above never do.
	var coJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT cooccur_json FROM usage_stats WHERE verb = ? AND token = ?
	`, u.Verb, u.Token).Scan(&coJSON)
	if err != nil {
		return err
	}
	merged := make(map[string]int)
	if coJSON != "" && coJSON != "{}" {
		_ = json.Unmarshal([]byte(coJSON), &merged)
	}
	for other, n := range u.CoOccur {
		merged[other] += n
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE usage_stats SET cooccur_json = ? WHERE verb = ? AND token = ?
	`, string(out), u.Verb, u.Token)
	return err
}

// ReplaceState wipes the store and writes the given state. Used by
// import and clear.
func (s *SQLiteStore) ReplaceState(ctx context.Context, state *State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin replace transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"usage_stats", "param_values", "command_history", "transitions", "workflows", "dir_visits"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if state != nil {
		if err := insertState(ctx, tx, state); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace: %w", err)
	}
	return nil
}

func insertState(ctx context.Context, tx *sql.Tx, state *State) error {
	if state.Graph != nil {
		for verb, vs := range state.Graph.Verbs {
			for token, stat := range vs.Args {
				coJSON := "{}"
				if len(stat.CoOccur) > 0 {
					b, err := json.Marshal(stat.CoOccur)
					if err != nil {
						return err
					}
					coJSON = string(b)
				}
				_, err := tx.ExecContext(ctx, `
					INSERT INTO usage_stats (verb, token, is_flag, count, last_used_unix_ms, cooccur_json)
					VALUES (?, ?, ?, ?, ?, ?)
				`, verb, token, stat.IsFlag, stat.Count, stat.LastUsed.UnixMilli(), coJSON)
				if err != nil {
					return fmt.Errorf("failed to insert usage stats: %w", err)
				}
			}
			for flag, values := range vs.ParamValues {
				for value, stat := range values {
					_, err := tx.ExecContext(ctx, `
						INSERT INTO param_values (verb, flag, value, count, last_used_unix_ms)
						VALUES (?, ?, ?, ?, ?)
					`, verb, flag, value, stat.Count, stat.LastUsed.UnixMilli())
					if err != nil {
						return fmt.Errorf("failed to insert parameter values: %w", err)
					}
				}
			}
		}
	}
	for _, rec := range state.History {
		argsJSON, err := json.Marshal(rec.Args)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO command_history (command_id, verb, full_line, args_json, success, ts_unix_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.CommandID, rec.Verb, rec.FullLine, string(argsJSON), rec.Success, rec.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert history: %w", err)
		}
	}
	if state.Sequence != nil {
		for key, next := range state.Sequence.Transitions {
			for verb, count := range next {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO transitions (gram_key, next_verb, count) VALUES (?, ?, ?)
				`, key, verb, count)
				if err != nil {
					return fmt.Errorf("failed to insert transitions: %w", err)
				}
			}
		}
		for _, wf := range state.Sequence.Workflows {
			stepsJSON, err := json.Marshal(wf.Steps)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO workflows (steps_json, occurrences, avg_gap_ms, last_seen_unix_ms)
				VALUES (?, ?, ?, ?)
			`, string(stepsJSON), wf.Occurrences, wf.AvgStepGap.Milliseconds(), wf.LastSeen.UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to insert workflows: %w", err)
			}
		}
	}
	for path, stat := range state.Dirs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dir_visits (path, visits, last_visit_unix_ms) VALUES (?, ?, ?)
		`, path, stat.Visits, stat.LastVisit.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert directory visits: %w", err)
		}
	}
	return nil
}

// PruneHistory applies the retention policy to the persisted history:
// at most maxCount rows, none older than maxAge. Zero disables the
// respective limit. Returns the number of rows removed.
func (s *SQLiteStore) PruneHistory(ctx context.Context, maxCount int, maxAge time.Duration) (int64, error) {
	var removed int64
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixMilli()
		res, err := s.db.ExecContext(ctx, `DELETE FROM command_history WHERE ts_unix_ms < ?`, cutoff)
		if err != nil {
			return removed, fmt.Errorf("failed to prune history by age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if maxCount > 0 {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM command_history WHERE id NOT IN (
				SELECT id FROM command_history ORDER BY ts_unix_ms DESC, id DESC LIMIT ?
			)
		`, maxCount)
		if err != nil {
			return removed, fmt.Errorf("failed to prune history by count: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
