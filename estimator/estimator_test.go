package estimator

import (
	"sync"
	"testing"
	"time"
)

func TestEstimator(t *testing.T) {
	now := time.Now()
	e := newAt(now, time.Second)

	e.estimate(now)
	e.Accumulate(42)
	e.Accumulate(128)
	e.estimate(now.Add(time.Second))
	rate, chunkRate := e.estimate(now.Add(1001 * time.Millisecond))

	if rate != 42+128 {
		t.Errorf("Expected %v, got %v", 42+128, rate)
	}
	if chunkRate != 2 {
		t.Errorf("Expected 2, got %v", chunkRate)
	}

	totalC, totalB := e.Totals()
	if totalC != 2 {
		t.Errorf("Expected 2, got %v", totalC)
	}
	if totalB != 42+128 {
		t.Errorf("Expected %v, got %v", 42+128, totalB)
	}

	e.Accumulate(12)

	totalC, totalB = e.Totals()
	if totalC != 3 {
		t.Errorf("Expected 3, got %v", totalC)
	}
	if totalB != 42+128+12 {
		t.Errorf("Expected %v, got %v", 42+128+12, totalB)
	}
}

func TestEstimatorMany(t *testing.T) {
	now := time.Now()
	e := newAt(now, time.Second)

	for i := 0; i < 10000; i++ {
		e.Accumulate(42)
		now = now.Add(time.Millisecond)
		b, c := e.estimate(now)
		if i >= 1000 {
			if c != 1000 || b != c*42 {
				t.Errorf("Got %v %v, expected %v %v",
					c, b, 1000, 1000*42)
			}
		}
	}
}

func TestEstimatorParallel(t *testing.T) {
	e := New(time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				e.Accumulate(10)
				e.Estimate()
			}
		}()
	}
	wg.Wait()
	c, b := e.Totals()
	if c != 16000 || b != 160000 {
		t.Errorf("Got %v %v", c, b)
	}
}

func BenchmarkEstimator(b *testing.B) {
	e := New(time.Second)

	e.Estimate()
	time.Sleep(time.Millisecond)
	e.Estimate()
	b.ResetTimer()

	for i := 0; i < 1000*b.N; i++ {
		e.Accumulate(100)
	}
	e.Estimate()
}
