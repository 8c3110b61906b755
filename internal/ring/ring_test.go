package ring

import (
	"fmt"
	"testing"
	"time"
)

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ request, want int }{
		{1, 1},
		{2, 2},
		{3, 4},
		{1000, 1024},
		{4096, 4096},
	} {
		if got := New[int](tc.request).Cap(); got != tc.want {
			t.Errorf("New(%d).Cap(): got %d, want %d", tc.request, got, tc.want)
		}
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	t.Parallel()
	b := New[int](8)

	if n := b.Push([]int{1, 2, 3}); n != 3 {
		t.Fatalf("Push: got %d, want 3", n)
	}
	if got := b.Len(); got != 3 {
		t.Fatalf("Len: got %d, want 3", got)
	}

	out := make([]int, 8)
	if n := b.Pop(out); n != 3 {
		t.Fatalf("Pop: got %d, want 3", n)
	}
	for i, want := range []int{1, 2, 3} {
		if out[i] != want {
			t.Errorf("out[%d]: got %d, want %d", i, out[i], want)
		}
	}
	if got := b.Len(); got != 0 {
		t.Errorf("Len after drain: got %d, want 0", got)
	}
}

func TestPushTruncatesWhenFull(t *testing.T) {
	t.Parallel()
	b := New[int](4)

	if n := b.Push([]int{1, 2, 3}); n != 3 {
		t.Fatalf("first Push: got %d, want 3", n)
	}
	// Only one slot left.
	if n := b.Push([]int{4, 5, 6}); n != 1 {
		t.Fatalf("Push into nearly full ring: got %d, want 1", n)
	}
	if got := b.Free(); got != 0 {
		t.Errorf("Free: got %d, want 0", got)
	}
}

func TestPopShortWhenEmpty(t *testing.T) {
	t.Parallel()
	b := New[int](4)

	out := make([]int, 4)
	if n := b.Pop(out); n != 0 {
		t.Errorf("Pop from empty ring: got %d, want 0", n)
	}
}

func TestWraparoundPreservesOrder(t *testing.T) {
	t.Parallel()
	b := New[int](4)
	out := make([]int, 4)

	// Cycle enough times to wrap the cursors several times over.
	next := 0
	for round := 0; round < 10; round++ {
		in := []int{next, next + 1, next + 2}
		next += 3
		if n := b.Push(in); n != 3 {
			t.Fatalf("round %d: Push got %d, want 3", round, n)
		}
		if n := b.Pop(out[:3]); n != 3 {
			t.Fatalf("round %d: Pop got %d, want 3", round, n)
		}
		for i := range 3 {
			if out[i] != in[i] {
				t.Fatalf("round %d: out[%d] = %d, want %d", round, i, out[i], in[i])
			}
		}
	}
}

// One producer and one consumer hammering the ring concurrently must hand
// every item over exactly once, in order, without locks.
func TestConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()
	const total = 100000
	b := New[int](64)

	done := make(chan error, 1)
	go func() {
		out := make([]int, 32)
		want := 0
		deadline := time.Now().Add(10 * time.Second)
		for want < total {
			n := b.Pop(out)
			for i := 0; i < n; i++ {
				if out[i] != want {
					done <- fmt.Errorf("consumer: got %d, want %d", out[i], want)
					return
				}
				want++
			}
			if n == 0 && time.Now().After(deadline) {
				done <- fmt.Errorf("consumer timed out at item %d", want)
				return
			}
		}
		done <- nil
	}()

	in := make([]int, 0, 16)
	for next := 0; next < total; {
		in = in[:0]
		for i := 0; i < 16 && next+i < total; i++ {
			in = append(in, next+i)
		}
		pushed := 0
		for pushed < len(in) {
			pushed += b.Push(in[pushed:])
		}
		next += len(in)
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
