package audio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rajeevrajeshuni/audiobridge/pkg/audio"
)

func TestPacingBuffer_DropOldest(t *testing.T) {
	pb := audio.NewPacingBuffer(time.Hour, 3, func([]byte) {})
	for _, p := range [][]byte{{1}, {2}, {3}, {4}} {
		pb.Add(p)
	}
	if got := pb.Len(); got != 3 {
		t.Errorf("queue length: got %d, want 3", got)
	}
}

func TestPacingBuffer_DropCallback(t *testing.T) {
	var drops int
	pb := audio.NewPacingBuffer(time.Hour, 2, func([]byte) {}, audio.WithDropFunc(func() { drops++ }))
	for i := 0; i < 5; i++ {
		pb.Add([]byte{byte(i)})
	}
	if drops != 3 {
		t.Errorf("drop count: got %d, want 3", drops)
	}
}

func TestPacingBuffer_EmitsFIFOMostRecent(t *testing.T) {
	var mu sync.Mutex
	var emitted []byte
	done := make(chan struct{})

	pb := audio.NewPacingBuffer(time.Millisecond, 3, func(p []byte) {
		mu.Lock()
		emitted = append(emitted, p[0])
		if len(emitted) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	// Four adds into capacity 3: payload 1 is evicted, 2..4 survive.
	for i := byte(1); i <= 4; i++ {
		pb.Add([]byte{i})
	}
	pb.Start()
	defer pb.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emissions")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []byte{2, 3, 4}
	for i := range want {
		if emitted[i] != want[i] {
			t.Errorf("emission %d: got %d, want %d", i, emitted[i], want[i])
		}
	}
}

func TestPacingBuffer_CopiesPayload(t *testing.T) {
	got := make(chan []byte, 1)
	pb := audio.NewPacingBuffer(time.Millisecond, 4, func(p []byte) {
		select {
		case got <- p:
		default:
		}
	})

	payload := []byte{42}
	pb.Add(payload)
	payload[0] = 0 // caller reuses its buffer

	pb.Start()
	defer pb.Stop()

	select {
	case p := <-got:
		if p[0] != 42 {
			t.Errorf("payload mutated after Add: got %d, want 42", p[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
}

func TestPacingBuffer_StopIdempotent(t *testing.T) {
	pb := audio.NewPacingBuffer(time.Millisecond, 2, func([]byte) {})
	pb.Start()

	// Concurrent double Stop must not panic.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pb.Stop()
		}()
	}
	wg.Wait()
}

func TestPacingBuffer_NoEmissionAfterStop(t *testing.T) {
	var mu sync.Mutex
	var count int
	pb := audio.NewPacingBuffer(time.Millisecond, 4, func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	pb.Start()
	pb.Stop()

	// Give the tick goroutine time to observe the stop, then queue data.
	time.Sleep(20 * time.Millisecond)
	pb.Add([]byte{1})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("emissions after Stop: got %d, want 0", count)
	}
}
