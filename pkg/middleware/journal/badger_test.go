package journal

import (
	"path/filepath"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pipelinekit/pipelinekit"
)

func newTestJournal(t *testing.T) *BadgerJournal {
	t.Helper()
	j, err := NewBadgerJournal(filepath.Join(t.TempDir(), "journal"))
	if err != nil {
		t.Fatalf("NewBadgerJournal() error = %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestBadgerJournal_WriteThenReadIncomplete(t *testing.T) {
	j := newTestJournal(t)

	entry := pipelinekit.JournalEntry{
		ID:        "cmd-1",
		Kind:      "CreateOrder",
		Status:    pipelinekit.JournalPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := j.Write(entry); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	pending, err := j.ReadIncomplete()
	if err != nil {
		t.Fatalf("ReadIncomplete() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "cmd-1" {
		t.Fatalf("ReadIncomplete() = %+v, want single entry cmd-1", pending)
	}
}

func TestBadgerJournal_UpdateToCompletedDropsFromIncomplete(t *testing.T) {
	j := newTestJournal(t)

	entry := pipelinekit.JournalEntry{ID: "cmd-2", Status: pipelinekit.JournalPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := j.Write(entry); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entry.Status = pipelinekit.JournalCompleted
	entry.UpdatedAt = time.Now()
	if err := j.Update(entry); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	pending, err := j.ReadIncomplete()
	if err != nil {
		t.Fatalf("ReadIncomplete() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("ReadIncomplete() = %+v, want empty after completion", pending)
	}
}

func TestBadgerJournal_DeleteCompletedBeforeCutoff(t *testing.T) {
	j := newTestJournal(t)

	old := pipelinekit.JournalEntry{
		ID:        "cmd-old",
		Status:    pipelinekit.JournalCompleted,
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now().Add(-time.Hour),
	}
	recent := pipelinekit.JournalEntry{
		ID:        "cmd-recent",
		Status:    pipelinekit.JournalCompleted,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := j.Write(old); err != nil {
		t.Fatalf("Write(old) error = %v", err)
	}
	if err := j.Write(recent); err != nil {
		t.Fatalf("Write(recent) error = %v", err)
	}

	if err := j.DeleteCompleted(time.Now().Add(-30 * time.Minute)); err != nil {
		t.Fatalf("DeleteCompleted() error = %v", err)
	}

	pending, err := j.ReadIncomplete()
	if err != nil {
		t.Fatalf("ReadIncomplete() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("ReadIncomplete() = %+v, want empty (both entries were completed, neither pending)", pending)
	}

	err = j.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte("cmd-old")); err != badger.ErrKeyNotFound {
			t.Errorf("Get(cmd-old) error = %v, want ErrKeyNotFound (deleted)", err)
		}
		if _, err := txn.Get([]byte("cmd-recent")); err != nil {
			t.Errorf("Get(cmd-recent) error = %v, want present", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}
