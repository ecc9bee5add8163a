package audio

import "testing"

func TestIngestFIFO(t *testing.T) {
	m := NewMonitor()
	m.Configure([]int{1}, nil, nil)

	for _, level := range []int{10, 20, 30, 40} {
		m.Ingest(1, level)
	}
	if avg, _ := m.Average(1); avg != 25 {
		t.Fatalf("average = %v, want 25", avg)
	}

	// A fifth sample evicts the oldest (10).
	m.Ingest(1, 50)
	if avg, _ := m.Average(1); avg != 35 {
		t.Errorf("average after eviction = %v, want 35", avg)
	}
}

func TestIngestUnknownChannel(t *testing.T) {
	m := NewMonitor()
	m.Configure([]int{1}, nil, nil)
	m.Ingest(7, 90)
	if _, ok := m.Average(7); ok {
		t.Error("unknown channel was registered by Ingest")
	}
	if avg, _ := m.Average(1); avg != 0 {
		t.Errorf("average = %v, want 0", avg)
	}
}

func TestSortedTieBreak(t *testing.T) {
	m := NewMonitor()
	m.Configure([]int{1, 2}, []int{11}, []int{101})
	for range WindowSize {
		m.Ingest(1, 30)
		m.Ingest(2, 10)
		m.Ingest(11, 30)
		m.Ingest(101, 5)
	}

	sorted := m.Sorted()
	top := sorted[len(sorted)-1]
	if top.ID != 11 {
		t.Errorf("top = %d, want 11 (later-declared wins tie)", top.ID)
	}
	if sorted[0].ID != 101 {
		t.Errorf("lowest = %d, want 101", sorted[0].ID)
	}
}

func TestResetAndClamp(t *testing.T) {
	m := NewMonitor()
	m.Configure([]int{1}, nil, nil)
	for range WindowSize {
		m.Ingest(1, 250)
	}
	if avg, _ := m.Average(1); avg != 100 {
		t.Errorf("clamped average = %v, want 100", avg)
	}
	m.Reset()
	if avg, _ := m.Average(1); avg != 0 {
		t.Errorf("average after reset = %v, want 0", avg)
	}
}
