package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "traces.db"), "sqlite")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestRecordingLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	rec := &Recording{SessionID: "sess-1", Transport: "sse", BaseURL: "http://node", ProgramID: "prog"}
	if err := s.CreateRecording(ctx, rec); err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected recording id to be assigned")
	}
	if rec.Status != StatusStreaming {
		t.Fatalf("expected status %s got %s", StatusStreaming, rec.Status)
	}

	for i, raw := range []string{`{"type":"state"}`, `{"type":"result"}`} {
		kind := "state"
		if i == 1 {
			kind = "result"
		}
		if err := s.AppendEvent(ctx, &Event{RecordingID: rec.ID, Seq: i, Type: kind, Raw: raw}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	if err := s.FinishRecording(ctx, rec.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("FinishRecording: %v", err)
	}

	stored, err := s.GetRecording(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("expected status %s got %s", StatusCompleted, stored.Status)
	}
	if stored.Events != 2 {
		t.Fatalf("expected 2 events got %d", stored.Events)
	}
	if stored.ProgramID != "prog" || stored.Transport != "sse" {
		t.Fatalf("unexpected recording fields %+v", stored)
	}

	events, err := s.ListEvents(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events got %d", len(events))
	}
	if events[0].Seq != 0 {
		t.Fatalf("expected first seq 0 got %d", events[0].Seq)
	}
	if events[1].Type != "result" || events[1].Raw != `{"type":"result"}` {
		t.Fatalf("unexpected second event %+v", events[1])
	}
}

func TestListRecordingsNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	var ids []string
	for _, session := range []string{"a", "b", "c"} {
		rec := &Recording{SessionID: session, Transport: "websocket", BaseURL: "http://node"}
		if err := s.CreateRecording(ctx, rec); err != nil {
			t.Fatalf("CreateRecording: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	recs, err := s.ListRecordings(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecordings: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recordings got %d", len(recs))
	}
	if recs[0].ID != ids[2] || recs[1].ID != ids[1] {
		t.Fatalf("expected newest first %v got %s, %s", ids, recs[0].ID, recs[1].ID)
	}
}

func TestMissingRecording(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.GetRecording(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRecording: expected ErrNotFound got %v", err)
	}
	if err := s.FinishRecording(ctx, "nope", StatusFailed, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FinishRecording: expected ErrNotFound got %v", err)
	}
	if err := s.DeleteRecording(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteRecording: expected ErrNotFound got %v", err)
	}
}

func TestDeleteRecording(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	rec := &Recording{SessionID: "s", Transport: "sse", BaseURL: "http://node"}
	if err := s.CreateRecording(ctx, rec); err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	if err := s.AppendEvent(ctx, &Event{RecordingID: rec.ID, Raw: "ping"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.DeleteRecording(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteRecording: %v", err)
	}

	events, err := s.ListEvents(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events to be deleted, got %d", len(events))
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	if _, err := Open("", "sqlite"); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := Open("x", "mysql"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "traces.db")
	s, err := Open(path, "")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected directory to exist: %v", err)
	}
}

func TestRebindForPostgres(t *testing.T) {
	t.Parallel()

	s := &Store{driver: "postgres"}
	if got := s.rebind("UPDATE t SET a=? WHERE id=?"); got != "UPDATE t SET a=$1 WHERE id=$2" {
		t.Fatalf("unexpected postgres rebind %q", got)
	}
	s.driver = "sqlite"
	if got := s.rebind("a=?"); got != "a=?" {
		t.Fatalf("expected sqlite query unchanged got %q", got)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("KOLIBRI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KOLIBRI_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(dsn, "postgres")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	rec := &Recording{SessionID: "pg", Transport: "sse", BaseURL: "http://node"}
	if err := s.CreateRecording(ctx, rec); err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteRecording(ctx, rec.ID) })
	if err := s.AppendEvent(ctx, &Event{RecordingID: rec.ID, Raw: "ping"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	stored, err := s.GetRecording(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if stored.Events != 1 {
		t.Fatalf("expected 1 event got %d", stored.Events)
	}
}
