package session

import (
	"errors"
	"testing"
	"time"

	"github.com/dgallion1/retell/internal/quiz"
)

func TestState_PointerBounds(t *testing.T) {
	st := State{Questions: []quiz.Question{{Text: "q1"}, {Text: "q2"}}}
	if _, ok := st.Pointer(); ok {
		t.Fatal("expected no pointer on fresh state")
	}

	st.SetPointer(5)
	if i, ok := st.Pointer(); !ok || i != 2 {
		t.Errorf("expected pointer clamped to 2, got %d (ok=%v)", i, ok)
	}
	st.SetPointer(-1)
	if i, _ := st.Pointer(); i != 0 {
		t.Errorf("expected pointer clamped to 0, got %d", i)
	}

	st.ClearPointer()
	if _, ok := st.Pointer(); ok {
		t.Error("expected pointer cleared")
	}
}

func TestState_CloneIsDeep(t *testing.T) {
	st := State{
		Questions: []quiz.Question{{Text: "q1", Answer: "a1"}},
		Answers:   map[int]string{0: "mine"},
		Attempts:  map[int]int{0: 1},
	}
	cp := st.Clone()
	cp.Questions[0].Text = "changed"
	cp.Answers[0] = "changed"
	cp.Attempts[0] = 9

	if st.Questions[0].Text != "q1" || st.Answers[0] != "mine" || st.Attempts[0] != 1 {
		t.Errorf("clone shares memory with original: %+v", st)
	}
}

func TestSession_BeginIsExclusive(t *testing.T) {
	sess := newSession("s1")
	tk, _, err := sess.Begin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := sess.Begin(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	sess.Release(tk)
	if _, _, err := sess.Begin(); err != nil {
		t.Fatalf("expected Begin after Release to succeed, got %v", err)
	}
}

func TestSession_CommitStoresState(t *testing.T) {
	sess := newSession("s1")
	tk, st, _ := sess.Begin()
	st.Summary = "retold"
	if !sess.Commit(tk, st) {
		t.Fatal("expected commit to succeed")
	}
	if got := sess.Snapshot().Summary; got != "retold" {
		t.Errorf("expected summary %q, got %q", "retold", got)
	}
	if sess.Busy() {
		t.Error("expected session idle after commit")
	}
}

func TestSession_ResetDiscardsInFlightResult(t *testing.T) {
	sess := newSession("s1")
	tk, st, _ := sess.Begin()
	st.Summary = "late result"

	sess.Reset()
	if sess.Busy() {
		t.Fatal("expected reset to clear busy flag")
	}
	if sess.Commit(tk, st) {
		t.Fatal("expected stale commit to be rejected")
	}
	if got := sess.Snapshot().Summary; got != "" {
		t.Errorf("expected empty summary after reset, got %q", got)
	}

	// A stale release must not free a step begun after the reset.
	tk2, _, err := sess.Begin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sess.Release(tk)
	if !sess.Busy() {
		t.Error("stale release freed the current step")
	}
	sess.Release(tk2)
}

func TestSession_ResetClearsEverything(t *testing.T) {
	sess := newSession("s1")
	tk, st, _ := sess.Begin()
	st.Summary = "s"
	st.Questions = []quiz.Question{{Text: "q", Answer: "a"}}
	st.SetPointer(0)
	st.Answers = map[int]string{0: "x"}
	sess.Commit(tk, st)

	sess.Reset()
	snap := sess.Snapshot()
	if snap.Summary != "" || len(snap.Questions) != 0 || len(snap.Answers) != 0 {
		t.Errorf("expected cleared state, got %+v", snap)
	}
	if _, ok := snap.Pointer(); ok {
		t.Error("expected no pointer after reset")
	}
}

func TestStore_GetCreatesOnce(t *testing.T) {
	store := NewStore(time.Hour)
	a := store.Get("chat-1")
	b := store.Get("chat-1")
	if a != b {
		t.Error("expected the same session for the same id")
	}
	if store.Get("chat-2") == a {
		t.Error("expected distinct sessions for distinct ids")
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", store.Len())
	}
	if store.Lookup("missing") != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestStore_CleanupEvictsIdle(t *testing.T) {
	store := NewStore(10 * time.Millisecond)
	store.Get("idle")
	busy := store.Get("busy")
	if _, _, err := busy.Begin(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	store.Get("fresh")

	if n := store.Cleanup(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if store.Lookup("idle") != nil {
		t.Error("expected idle session evicted")
	}
	if store.Lookup("busy") == nil {
		t.Error("expected busy session kept")
	}
	if store.Lookup("fresh") == nil {
		t.Error("expected fresh session kept")
	}
}

func TestStore_GetRefreshesActivity(t *testing.T) {
	store := NewStore(20 * time.Millisecond)
	store.Get("u1")
	time.Sleep(30 * time.Millisecond)

	sess := store.Get("u1")
	if n := store.Cleanup(); n != 0 {
		t.Fatalf("expected no eviction right after Get, got %d", n)
	}
	if store.Lookup("u1") != sess {
		t.Error("expected the session handed out by Get to stay registered")
	}
}

func TestStore_ZeroTTLKeepsEverything(t *testing.T) {
	store := NewStore(0)
	store.Get("a")
	if n := store.Cleanup(); n != 0 {
		t.Errorf("expected no eviction, got %d", n)
	}
}
