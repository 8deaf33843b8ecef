package pipelinekit

import "testing"

var testKey = NewKey[string]("test-key")

func TestSetGetDelete_RoundTrip(t *testing.T) {
	c := NewCommandContext(CommandMetadata{})

	if _, ok := Get(c, testKey); ok {
		t.Fatal("Get() ok = true before any Set, want false")
	}

	Set(c, testKey, "hello")
	got, ok := Get(c, testKey)
	if !ok || got != "hello" {
		t.Fatalf("Get() = %q, %v; want %q, true", got, ok, "hello")
	}

	Delete(c, testKey)
	if _, ok := Get(c, testKey); ok {
		t.Error("Get() ok = true after Delete, want false")
	}
}

func TestNewKey_DistinctEvenWithSameName(t *testing.T) {
	a := NewKey[string]("shared")
	b := NewKey[string]("shared")

	c := NewCommandContext(CommandMetadata{})
	Set(c, a, "from-a")
	Set(c, b, "from-b")

	gotA, _ := Get(c, a)
	gotB, _ := Get(c, b)
	if gotA != "from-a" || gotB != "from-b" {
		t.Errorf("Get(a) = %q, Get(b) = %q; keys with the same name collided", gotA, gotB)
	}
}

func TestFork_ChildWritesNeverLeakToParent(t *testing.T) {
	parent := NewCommandContext(CommandMetadata{})
	Set(parent, testKey, "parent-value")

	child := parent.Fork()
	Set(child, testKey, "child-value")

	parentValue, _ := Get(parent, testKey)
	if parentValue != "parent-value" {
		t.Errorf("parent value = %q after a write through the fork, want unchanged %q", parentValue, "parent-value")
	}

	childValue, _ := Get(child, testKey)
	if childValue != "child-value" {
		t.Errorf("child value = %q, want %q", childValue, "child-value")
	}
}

func TestFork_ParentWritesAfterForkNeverLeakToChild(t *testing.T) {
	parent := NewCommandContext(CommandMetadata{})
	Set(parent, testKey, "original")

	child := parent.Fork()
	Set(parent, testKey, "parent-updated-after-fork")

	childValue, _ := Get(child, testKey)
	if childValue != "original" {
		t.Errorf("child value = %q after a write through the parent made post-fork, want unchanged %q", childValue, "original")
	}
}

func TestFork_ChildInitiallyObservesParentState(t *testing.T) {
	parent := NewCommandContext(CommandMetadata{})
	Set(parent, testKey, "shared-until-write")

	child := parent.Fork()
	got, ok := Get(child, testKey)
	if !ok || got != "shared-until-write" {
		t.Fatalf("Get(child) = %q, %v; want %q, true", got, ok, "shared-until-write")
	}
}

func TestMerge_FoldsForkedWritesBackIntoParent(t *testing.T) {
	parent := NewCommandContext(CommandMetadata{})
	child := parent.Fork()

	branchKey := NewKey[int]("branch-result")
	Set(child, branchKey, 42)

	parent.Merge(child)

	got, ok := Get(parent, branchKey)
	if !ok || got != 42 {
		t.Fatalf("Get(parent, branchKey) = %v, %v after Merge; want 42, true", got, ok)
	}
}

func TestMerge_OverwritesOnKeyCollision(t *testing.T) {
	parent := NewCommandContext(CommandMetadata{})
	Set(parent, testKey, "parent")

	child := parent.Fork()
	Set(child, testKey, "child")

	parent.Merge(child)
	got, _ := Get(parent, testKey)
	if got != "child" {
		t.Errorf("Get(parent, testKey) after Merge = %q, want %q (child should win on collision)", got, "child")
	}
}

func TestSnapshot_ReportsIdentityAndKeyNames(t *testing.T) {
	c := NewCommandContext(CommandMetadata{UserID: "u-1", CorrelationID: "corr-1"})
	Set(c, testKey, "value")

	snap := c.Snapshot()
	if snap.UserID != "u-1" || snap.CorrelationID != "corr-1" {
		t.Errorf("Snapshot() identity = %+v, want UserID=u-1 CorrelationID=corr-1", snap)
	}
	if len(snap.Keys) != 1 || snap.Keys[0] != "test-key" {
		t.Errorf("Snapshot().Keys = %v, want [\"test-key\"]", snap.Keys)
	}
}

func TestRecordMetric_AccumulatesAcrossCalls(t *testing.T) {
	c := NewCommandContext(CommandMetadata{})
	c.RecordMetric("latency_ms", 10)
	c.RecordMetric("latency_ms", 5)

	metrics := c.Metrics()
	if metrics["latency_ms"] != 15 {
		t.Errorf("Metrics()[\"latency_ms\"] = %v, want 15", metrics["latency_ms"])
	}
}
