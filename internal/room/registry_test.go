package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCreateAndJoin(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})

	id, err := r.Create("conn-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(id) != 9 {
		t.Fatalf("room id %q, want 9 chars", id)
	}
	if r.Len() != 1 {
		t.Fatalf("Len=%d, want 1", r.Len())
	}

	ready, peer, err := r.Join(id, "conn-b")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !ready {
		t.Error("Join: room with two participants should be ready")
	}
	if peer != "conn-a" {
		t.Errorf("peer=%q, want conn-a", peer)
	}

	if got, ok := r.Peer(id, "conn-a"); !ok || got != "conn-b" {
		t.Errorf("Peer(conn-a)=%q,%v, want conn-b,true", got, ok)
	}
	if got, ok := r.Peer(id, "conn-b"); !ok || got != "conn-a" {
		t.Errorf("Peer(conn-b)=%q,%v, want conn-a,true", got, ok)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	if _, _, err := r.Join("nosuchroo", "conn-a"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want ErrRoomNotFound", err)
	}
}

func TestRoomNeverExceedsTwo(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	id, err := r.Create("conn-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := r.Join(id, "conn-b"); err != nil {
		t.Fatalf("Join b: %v", err)
	}
	if _, _, err := r.Join(id, "conn-c"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("Join c: err=%v, want ErrRoomFull", err)
	}
}

func TestConcurrentJoinersOnlyOneWins(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	id, err := r.Create("creator")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const racers = 32
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = r.Join(id, ConnID(fmt.Sprintf("racer-%d", i)))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrRoomFull):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d joiners won, want exactly 1", won)
	}
}

func TestAlreadyInRoom(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	id, err := r.Create("conn-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := r.Create("conn-a"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("second Create: err=%v, want ErrAlreadyInRoom", err)
	}
	if _, _, err := r.Join(id, "conn-a"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("self Join: err=%v, want ErrAlreadyInRoom", err)
	}

	id2, err := r.Create("conn-b")
	if err != nil {
		t.Fatalf("Create second room: %v", err)
	}
	if _, _, err := r.Join(id2, "conn-a"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("cross Join: err=%v, want ErrAlreadyInRoom", err)
	}
}

func TestLeaveDissolvesRoom(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	id, _ := r.Create("conn-a")
	r.Join(id, "conn-b")

	roomID, peer, ok := r.Leave("conn-a")
	if !ok || roomID != id || peer != "conn-b" {
		t.Fatalf("Leave(conn-a)=%q,%q,%v, want %q,conn-b,true", roomID, peer, ok, id)
	}

	// The pairing is dead: the room ID is invalid for new joiners and the
	// surviving peer is back to roomless.
	if r.Len() != 0 {
		t.Fatalf("Len=%d, want 0 after leave", r.Len())
	}
	if _, _, err := r.Join(id, "conn-c"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Join dissolved room: err=%v, want ErrRoomNotFound", err)
	}
	if _, ok := r.RoomOf("conn-b"); ok {
		t.Fatal("surviving peer still indexed after room dissolved")
	}
	if _, err := r.Create("conn-b"); err != nil {
		t.Fatalf("survivor Create: %v", err)
	}
}

func TestLeaveUnpairedRoom(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	id, _ := r.Create("conn-a")

	roomID, peer, ok := r.Leave("conn-a")
	if !ok || roomID != id || peer != "" {
		t.Fatalf("Leave=%q,%q,%v, want %q,empty,true", roomID, peer, ok, id)
	}
	if r.Len() != 0 {
		t.Fatalf("Len=%d, want 0", r.Len())
	}
}

func TestLeaveIdempotent(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	if _, _, ok := r.Leave("ghost"); ok {
		t.Fatal("Leave of unknown conn reported ok")
	}

	if _, err := r.Create("conn-a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Leave("conn-a")
	if _, _, ok := r.Leave("conn-a"); ok {
		t.Fatal("second Leave reported ok")
	}
}

func TestMaxRooms(t *testing.T) {
	r := NewRegistry(Options{MaxRooms: 2, IDLength: 9})
	if _, err := r.Create("a"); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := r.Create("b"); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if _, err := r.Create("c"); !errors.Is(err, ErrTooManyRooms) {
		t.Fatalf("Create c: err=%v, want ErrTooManyRooms", err)
	}

	// Capacity frees up once a room is emptied.
	r.Leave("a")
	if _, err := r.Create("c"); err != nil {
		t.Fatalf("Create c after leave: %v", err)
	}
}

func TestRoomOf(t *testing.T) {
	r := NewRegistry(Options{IDLength: 9})
	id, _ := r.Create("conn-a")

	if got, ok := r.RoomOf("conn-a"); !ok || got != id {
		t.Fatalf("RoomOf=%q,%v, want %q,true", got, ok, id)
	}
	if _, ok := r.RoomOf("conn-b"); ok {
		t.Fatal("RoomOf unknown conn reported ok")
	}
}

func TestRandomBase36(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 100; i++ {
		id, err := randomBase36(9)
		if err != nil {
			t.Fatalf("randomBase36: %v", err)
		}
		if len(id) != 9 {
			t.Fatalf("id %q, want 9 chars", id)
		}
		for _, c := range string(id) {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("id %q contains %q outside base36", id, c)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q in 100 draws", id)
		}
		seen[id] = true
	}
}
