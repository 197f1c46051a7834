package storage

import (
	"testing"
)

func TestInsertEventDuplicate(t *testing.T) {
	s := openTestStore(t)

	ev := NewEvent{FileName: "f.jsonl", LineNumber: 7, EventData: eventJSON("user", "s1", "first")}
	id1, inserted, err := s.InsertEvent(ev)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted=true")
	}

	// Same key, different payload: the original row wins.
	ev.EventData = eventJSON("user", "s1", "second")
	id2, inserted, err := s.InsertEvent(ev)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should report inserted=false")
	}
	if id1 != id2 {
		t.Errorf("duplicate returned id %d, want original %d", id2, id1)
	}

	var data string
	if err := s.db.QueryRow("SELECT event_data FROM conversation_events WHERE id = ?", id1).Scan(&data); err != nil {
		t.Fatal(err)
	}
	if data != eventJSON("user", "s1", "first") {
		t.Error("duplicate insert overwrote the original payload")
	}
}

func TestInsertEventsBatch(t *testing.T) {
	s := openTestStore(t)

	events := []NewEvent{
		{FileName: "f.jsonl", LineNumber: 1, EventData: eventJSON("user", "s1", "one")},
		{FileName: "f.jsonl", LineNumber: 2, EventData: eventJSON("assistant", "s1", "two")},
		{FileName: "f.jsonl", LineNumber: 3, EventData: eventJSON("user", "s1", "three")},
	}
	n, err := s.InsertEventsBatch(events)
	if err != nil {
		t.Fatalf("InsertEventsBatch: %v", err)
	}
	if n != 3 {
		t.Errorf("stored %d, want 3", n)
	}

	// Re-running the same batch plus one new line stores only the new line.
	events = append(events, NewEvent{FileName: "f.jsonl", LineNumber: 4, EventData: eventJSON("user", "s1", "four")})
	n, err = s.InsertEventsBatch(events)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if n != 1 {
		t.Errorf("stored %d on rerun, want 1", n)
	}

	stats, err := s.GetStatistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", stats.TotalEvents)
	}
}

func TestInsertEventsBatchEmpty(t *testing.T) {
	s := openTestStore(t)

	n, err := s.InsertEventsBatch(nil)
	if err != nil || n != 0 {
		t.Errorf("empty batch = (%d, %v), want (0, nil)", n, err)
	}
}

func TestUnsyncedOrderingAndLimit(t *testing.T) {
	s := openTestStore(t)

	var ids []int64
	for i := 1; i <= 5; i++ {
		id, _, err := s.InsertEvent(NewEvent{
			FileName: "f.jsonl", LineNumber: i,
			EventData: eventJSON("user", "s1", "msg"),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	events, err := s.GetUnsyncedEvents(3)
	if err != nil {
		t.Fatalf("GetUnsyncedEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Most recently inserted first.
	if events[0].ID != ids[4] || events[1].ID != ids[3] || events[2].ID != ids[2] {
		t.Errorf("wrong order: got ids %d,%d,%d", events[0].ID, events[1].ID, events[2].ID)
	}
}

func TestMarkSynced(t *testing.T) {
	s := openTestStore(t)

	id1, _, _ := s.InsertEvent(NewEvent{FileName: "f.jsonl", LineNumber: 1, EventData: eventJSON("user", "s1", "a")})
	id2, _, _ := s.InsertEvent(NewEvent{FileName: "f.jsonl", LineNumber: 2, EventData: eventJSON("user", "s1", "b")})

	if err := s.MarkSynced([]int64{id1}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	events, err := s.GetUnsyncedEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != id2 {
		t.Fatalf("expected only event %d unsynced, got %+v", id2, events)
	}

	// Marking again must not disturb the original timestamp.
	var first string
	s.db.QueryRow("SELECT synced_at FROM conversation_events WHERE id = ?", id1).Scan(&first)
	if err := s.MarkSynced([]int64{id1, id2}); err != nil {
		t.Fatal(err)
	}
	var second string
	s.db.QueryRow("SELECT synced_at FROM conversation_events WHERE id = ?", id1).Scan(&second)
	if first != second {
		t.Errorf("synced_at changed on re-mark: %q -> %q", first, second)
	}

	if err := s.MarkSynced(nil); err != nil {
		t.Errorf("MarkSynced(nil) = %v, want nil", err)
	}
}

func TestUnsyncedForSession(t *testing.T) {
	s := openTestStore(t)

	for i := 1; i <= 3; i++ {
		s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: i, EventData: eventJSON("user", "sess-a", "a")})
	}
	s.InsertEvent(NewEvent{FileName: "b.jsonl", LineNumber: 1, EventData: eventJSON("user", "sess-b", "b")})

	events, err := s.GetUnsyncedEventsForSession("sess-a", 10)
	if err != nil {
		t.Fatalf("GetUnsyncedEventsForSession: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events for sess-a, want 3", len(events))
	}
	for _, e := range events {
		if e.EventSessionID != "sess-a" {
			t.Errorf("event %d has session %q", e.ID, e.EventSessionID)
		}
	}
}

func TestGetSessionEvents(t *testing.T) {
	s := openTestStore(t)

	var ids []int64
	for i := 1; i <= 3; i++ {
		id, _, _ := s.InsertEvent(NewEvent{
			FileName: "a.jsonl", LineNumber: i,
			EventData: eventJSON("user", "sess-x", "m"),
		})
		ids = append(ids, id)
	}

	events, err := s.GetSessionEvents("sess-x")
	if err != nil {
		t.Fatalf("GetSessionEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Insertion order for conversation replay.
	for i, e := range events {
		if e.ID != ids[i] {
			t.Errorf("position %d: id %d, want %d", i, e.ID, ids[i])
		}
	}
}

func TestSearchRanksMatches(t *testing.T) {
	s := openTestStore(t)

	s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: 1, EventData: eventJSON("user", "s1", "deploy the staging cluster")})
	s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: 2, EventData: eventJSON("user", "s1", "deploy deploy deploy now")})
	s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: 3, EventData: eventJSON("user", "s1", "unrelated message")})

	results, err := s.Search("deploy", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// bm25 rank: lower is better, results come best-first.
	if results[0].Rank > results[1].Rank {
		t.Errorf("results not ordered by rank: %f then %f", results[0].Rank, results[1].Rank)
	}

	results, err = s.Search("nosuchterm", 10)
	if err != nil {
		t.Fatalf("Search miss: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)

	id, _, _ := s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: 1, EventData: eventJSON("user", "s1", "a")})
	s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: 2, EventData: eventJSON("user", "s2", "b")})
	s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: 3, EventData: `{"type":"summary"}`})
	s.MarkSynced([]int64{id})

	stats, err := s.GetStatistics()
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", stats.TotalSessions)
	}
	if stats.UnsyncedCount != 2 {
		t.Errorf("UnsyncedCount = %d, want 2", stats.UnsyncedCount)
	}
}

func TestUserNameRecorded(t *testing.T) {
	s := openTestStore(t)

	id, _, err := s.InsertEvent(NewEvent{FileName: "a.jsonl", LineNumber: 1, EventData: eventJSON("user", "s1", "a")})
	if err != nil {
		t.Fatal(err)
	}

	var user string
	if err := s.db.QueryRow("SELECT user_name FROM conversation_events WHERE id = ?", id).Scan(&user); err != nil {
		t.Fatal(err)
	}
	if user != "tester" {
		t.Errorf("user_name = %q, want tester", user)
	}
}
