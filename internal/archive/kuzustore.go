//go:build cgo

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kuzu "github.com/kuzudb/go-kuzu"

	"github.com/ab1355/ModuMind/internal/task"
)

// KuzuStore archives tasks as a graph in KuzuDB: tasks own subtasks,
// subtasks depend on each other and ran on agents. It requires CGO because
// the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	mu   sync.Mutex
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore opens a KuzuDB archive at dbPath and creates the schema.
// ":memory:" opens a throwaway in-memory database.
func NewKuzuStore(dbPath string) (*KuzuStore, error) {
	if dbPath != ":memory:" {
		// KuzuDB creates the leaf directory itself.
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
		}
	}
	db, err := kuzu.OpenDatabase(dbPath, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	s := &KuzuStore{db: db, conn: conn}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openKuzu(path string) (Store, error) {
	return NewKuzuStore(path)
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

// Node tables precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Task(
		id STRING,
		status STRING,
		failure_kind STRING,
		created_at INT64,
		updated_at INT64,
		snapshot STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Subtask(
		id STRING,
		task_id STRING,
		step STRING,
		capability STRING,
		status STRING,
		attempts INT64,
		failure_kind STRING,
		updated_at INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Agent(
		name STRING,
		PRIMARY KEY(name)
	)`,
	`CREATE REL TABLE IF NOT EXISTS HAS_SUBTASK(FROM Task TO Subtask)`,
	`CREATE REL TABLE IF NOT EXISTS DEPENDS_ON(FROM Subtask TO Subtask)`,
	`CREATE REL TABLE IF NOT EXISTS RAN_ON(FROM Subtask TO Agent)`,
}

func (s *KuzuStore) initSchema() error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// Record writes the task, its subtasks and their edges. A task already in
// the archive is replaced.
func (s *KuzuStore) Record(_ context.Context, snap task.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("kuzu: encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteTask(snap.Task.ID); err != nil {
		return err
	}

	t := snap.Task
	if err := s.exec(
		`CREATE (t:Task {
			id: $id,
			status: $status,
			failure_kind: $kind,
			created_at: $created,
			updated_at: $updated,
			snapshot: $snapshot
		})`,
		map[string]any{
			"id":       t.ID,
			"status":   string(t.Status),
			"kind":     failureKind(t.Failure),
			"created":  t.CreatedAt.UnixNano(),
			"updated":  t.UpdatedAt.UnixNano(),
			"snapshot": string(data),
		},
	); err != nil {
		return err
	}

	for _, st := range snap.Subtasks {
		if err := s.exec(
			`MATCH (t:Task {id: $task})
			CREATE (t)-[:HAS_SUBTASK]->(:Subtask {
				id: $id,
				task_id: $task,
				step: $step,
				capability: $capability,
				status: $status,
				attempts: $attempts,
				failure_kind: $kind,
				updated_at: $updated
			})`,
			map[string]any{
				"task":       t.ID,
				"id":         st.ID,
				"step":       st.Step,
				"capability": st.Capability,
				"status":     string(st.Status),
				"attempts":   int64(st.Attempts),
				"kind":       failureKind(st.Failure),
				"updated":    st.UpdatedAt.UnixNano(),
			},
		); err != nil {
			return err
		}
		if st.Agent == "" {
			continue
		}
		if err := s.exec("MERGE (:Agent {name: $name})", map[string]any{"name": st.Agent}); err != nil {
			return err
		}
		if err := s.exec(
			`MATCH (s:Subtask {id: $id}), (a:Agent {name: $name})
			CREATE (s)-[:RAN_ON]->(a)`,
			map[string]any{"id": st.ID, "name": st.Agent},
		); err != nil {
			return err
		}
	}

	for _, st := range snap.Subtasks {
		for _, dep := range st.DependsOn {
			if err := s.exec(
				`MATCH (a:Subtask {id: $from}), (b:Subtask {id: $to})
				CREATE (a)-[:DEPENDS_ON]->(b)`,
				map[string]any{"from": st.ID, "to": dep},
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *KuzuStore) deleteTask(id string) error {
	params := map[string]any{"id": id}
	if err := s.exec("MATCH (st:Subtask {task_id: $id}) DETACH DELETE st", params); err != nil {
		return err
	}
	return s.exec("MATCH (t:Task {id: $id}) DETACH DELETE t", params)
}

// Get decodes the stored snapshot of a task.
func (s *KuzuStore) Get(_ context.Context, taskID string) (task.Snapshot, error) {
	s.mu.Lock()
	rows, err := s.query("MATCH (t:Task {id: $id}) RETURN t.snapshot", map[string]any{"id": taskID})
	s.mu.Unlock()
	if err != nil {
		return task.Snapshot{}, err
	}
	if len(rows) == 0 {
		return task.Snapshot{}, ErrNotFound
	}
	raw, _ := rows[0][0].(string)
	var snap task.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return task.Snapshot{}, fmt.Errorf("kuzu: decode snapshot: %w", err)
	}
	return snap, nil
}

// AgentHistory follows RAN_ON edges into agent, newest first.
func (s *KuzuStore) AgentHistory(_ context.Context, agent string, limit int) ([]HistoryEntry, error) {
	cypher := `MATCH (st:Subtask)-[:RAN_ON]->(a:Agent {name: $name})
		RETURN st.task_id, st.id, st.step, st.capability, st.status,
			st.attempts, st.failure_kind, st.updated_at
		ORDER BY st.updated_at DESC, st.id`
	if limit > 0 {
		// limit is an int, never user text.
		cypher += fmt.Sprintf(" LIMIT %d", limit)
	}

	s.mu.Lock()
	rows, err := s.query(cypher, map[string]any{"name": agent})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 8 {
			continue
		}
		e := HistoryEntry{
			TaskID:     asString(row[0]),
			SubtaskID:  asString(row[1]),
			Step:       asString(row[2]),
			Capability: asString(row[3]),
			Status:     task.SubtaskStatus(asString(row[4])),
			Attempts:   int(asInt64(row[5])),
			Kind:       task.ErrorKind(asString(row[6])),
			Time:       time.Unix(0, asInt64(row[7])).UTC(),
		}
		out = append(out, e)
	}
	return out, nil
}

// exec runs a parameterized Cypher statement that returns no rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects every row.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return nil, fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func failureKind(f *task.Failure) string {
	if f == nil {
		return ""
	}
	return string(f.Kind)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}
