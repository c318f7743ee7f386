package mse

import (
	"bytes"
	"testing"
)

func TestRing(t *testing.T) {
	r := NewRing(10)
	if r.Cap() != 10 {
		t.Errorf("Expected 10, got %v", r.Cap())
	}
	if err := r.Push([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := r.Push([]byte{5, 6, 7, 8, 9, 10}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if r.Len() != 10 {
		t.Errorf("Expected 10, got %v", r.Len())
	}
	err := r.Push([]byte{11})
	if err != ErrOverflow {
		t.Errorf("Expected overflow, got %v", err)
	}
	data := r.Flush()
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}) {
		t.Errorf("Unexpected data %v", data)
	}
	if r.Len() != 0 || r.Flush() != nil {
		t.Errorf("Ring not empty after flush")
	}
}

func TestRingDropNewest(t *testing.T) {
	r := NewRing(0)
	if r.Cap() != DefaultRingCapacity {
		t.Errorf("Expected default capacity, got %v", r.Cap())
	}
	chunk := make([]byte, 1000*1000)
	chunk[0] = 1
	for i := 0; i < 2; i++ {
		if err := r.Push(chunk); err != nil {
			t.Fatalf("Push %v: %v", i, err)
		}
	}
	big := make([]byte, 100*1000)
	big[0] = 2
	if err := r.Push(big); err != ErrOverflow {
		t.Errorf("Expected overflow, got %v", err)
	}
	// the pending window is untouched and a smaller chunk still fits
	if r.Len() != 2*1000*1000 {
		t.Errorf("Expected %v, got %v", 2*1000*1000, r.Len())
	}
	if err := r.Push([]byte{3}); err != nil {
		t.Errorf("Push: %v", err)
	}
	data := r.Flush()
	if len(data) > r.Cap() {
		t.Errorf("Flushed more than capacity")
	}
	if data[0] != 1 || data[1000*1000] != 1 || data[len(data)-1] != 3 {
		t.Errorf("Unexpected contents")
	}
}
