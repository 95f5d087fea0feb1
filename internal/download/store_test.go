package download

import (
	"sync"
	"testing"
)

func TestStore_Defaults(t *testing.T) {
	t.Parallel()
	s := NewStore()

	snap := s.Snapshot()
	if len(snap) != len(AllArtifacts) {
		t.Fatalf("expected %d states, got %d", len(AllArtifacts), len(snap))
	}
	for i, st := range snap {
		if st.Artifact != AllArtifacts[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, st.Artifact, AllArtifacts[i])
		}
		if st.StatusPollID != NoPoll {
			t.Errorf("%s: expected no poll, got %d", st.Artifact, st.StatusPollID)
		}
	}

	if _, ok := s.Get("unknown"); ok {
		t.Error("expected unknown artifact to be absent")
	}
}

func TestStore_UpdateNotifies(t *testing.T) {
	t.Parallel()
	s := NewStore(Summary, Spectrum)

	var got []DependencyState
	unsubscribe := s.Subscribe(func(st DependencyState) {
		got = append(got, st)
	})

	next, applied := s.Update(Summary, func(st DependencyState) (DependencyState, bool) {
		return submissionStarted(st), true
	})
	if !applied {
		t.Fatal("expected update to apply")
	}
	if next.Revision != 1 {
		t.Errorf("expected revision 1, got %d", next.Revision)
	}

	_, applied = s.Update(Summary, func(st DependencyState) (DependencyState, bool) {
		return st, false
	})
	if applied {
		t.Error("expected rejected update to report false")
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if !got[0].FetchingDownloadID || got[0].Artifact != Summary {
		t.Errorf("unexpected notification: %+v", got[0])
	}

	unsubscribe()
	s.Update(Spectrum, func(st DependencyState) (DependencyState, bool) {
		return submissionStarted(st), true
	})
	if len(got) != 1 {
		t.Errorf("expected no notification after unsubscribe, got %d", len(got))
	}
}

func TestStore_UpdateUnknown(t *testing.T) {
	t.Parallel()
	s := NewStore(Summary)

	called := false
	_, applied := s.Update(Coarse, func(st DependencyState) (DependencyState, bool) {
		called = true
		return st, true
	})
	if applied || called {
		t.Errorf("expected update of untracked artifact to be skipped (applied=%v called=%v)", applied, called)
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	t.Parallel()
	s := NewStore(Summary)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(Summary, func(st DependencyState) (DependencyState, bool) {
				return st, true
			})
		}()
	}
	wg.Wait()

	st, _ := s.Get(Summary)
	if st.Revision != 50 {
		t.Errorf("expected revision 50, got %d", st.Revision)
	}
}
