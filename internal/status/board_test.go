package status

import (
	"testing"

	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

func TestBoardHistory(t *testing.T) {
	board := NewBoard(nil)

	for i := 1; i <= historySize+3; i++ {
		board.CycleCompleted(fireOutcome(i), types.LoopState{Iteration: i, FireDetections: i})
	}
	board.CycleCompleted(types.Outcome{Record: types.CycleRecord{Iteration: 20, Caption: "a cat"}},
		types.LoopState{Iteration: 20, FireDetections: historySize + 3})

	snap := board.Snapshot()
	if len(snap.History) != historySize {
		t.Fatalf("history len = %d, want %d", len(snap.History), historySize)
	}
	if snap.History[0].Record.Iteration != historySize+3 {
		t.Errorf("newest detection = %d, want %d", snap.History[0].Record.Iteration, historySize+3)
	}
	if snap.Latest == nil || snap.Latest.Record.Iteration != 20 {
		t.Errorf("latest = %+v", snap.Latest)
	}
	if snap.State.Iteration != 20 {
		t.Errorf("state = %+v", snap.State)
	}
}

func TestBoardSnapshotIsCopy(t *testing.T) {
	board := NewBoard(nil)
	board.CycleCompleted(fireOutcome(1), types.LoopState{Iteration: 1, FireDetections: 1})

	snap := board.Snapshot()
	snap.History[0].Record.Caption = "mutated"
	snap.Latest.Record.Caption = "mutated"

	again := board.Snapshot()
	if again.History[0].Record.Caption == "mutated" || again.Latest.Record.Caption == "mutated" {
		t.Error("snapshot shares memory with board")
	}
}

func TestBoardPhase(t *testing.T) {
	board := NewBoard(nil)
	if got := board.Snapshot().Phase; got != "starting" {
		t.Errorf("initial phase = %q", got)
	}
	board.PhaseChanged("stopped")
	if got := board.Snapshot().Phase; got != "stopped" {
		t.Errorf("phase = %q", got)
	}
}

func TestBroadcasterDropsSlowClients(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()

	event, err := NewSerializedEvent(map[string]any{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		b.Publish(event)
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered = %d, want %d", len(ch), cap(ch))
	}

	b.Unsubscribe(id)
	for range ch {
	}
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount = %d", b.ClientCount())
	}
}
