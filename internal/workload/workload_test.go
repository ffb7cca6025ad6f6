package workload

import (
	"testing"

	"github.com/dreamware/edgecache/internal/config"
)

func TestNewDriverRejectsEmptyKeyspace(t *testing.T) {
	cfg := config.Config{KeyCount: 0, OpCount: 10}
	if _, err := NewDriver(cfg, 1); err == nil {
		t.Fatal("expected error for zero keycnt")
	}
}

func TestDriverProducesExactlyOpCountOps(t *testing.T) {
	cfg := config.Config{KeyCount: 100, OpCount: 25}
	d, err := NewDriver(cfg, 1)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	count := 0
	for {
		if _, ok := d.Next(); !ok {
			break
		}
		count++
	}
	if count != 25 {
		t.Fatalf("expected exactly 25 ops, got %d", count)
	}
}

func TestDriverIsDeterministicForSameSeed(t *testing.T) {
	cfg := config.Config{KeyCount: 50, OpCount: 10}
	d1, _ := NewDriver(cfg, 42)
	d2, _ := NewDriver(cfg, 42)

	for i := 0; i < 10; i++ {
		op1, _ := d1.Next()
		op2, _ := d2.Next()
		if op1.Key != op2.Key || op1.Method != op2.Method || string(op1.Value) != string(op2.Value) {
			t.Fatalf("expected identical ops for identical seed at index %d: %+v vs %+v", i, op1, op2)
		}
	}
}
