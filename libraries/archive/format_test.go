package archive

import (
	"testing"

	"github.com/redocdc/core/libraries/redotypes"
)

func TestExtractSequence(t *testing.T) {
	cases := []struct {
		name     string
		format   string
		filename string
		wantSeq  redotypes.Seq
		wantOK   bool
	}{
		{"simple %s", "arch_%s.log", "arch_100.log", 100, true},
		{"with thread %t", "arch_%t_%s.log", "arch_1_100.log", 100, true},
		{"with date %d", "arch_%d_%s.log", "arch_20260101_100.log", 100, true},
		{"with hash %h", "arch_%s_%h.log", "arch_100_ab12cd.log", 100, true},
		{"mismatched literal", "arch_%s.log", "arch_100.dat", 0, false},
		{"no digits for %s", "arch_%s.log", "arch_.log", 0, false},
		{"upper %S same as %s", "arch_%S.log", "arch_42.log", 42, true},
		{"trailing garbage", "arch_%s.log", "arch_100.logx", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq, ok := ExtractSequence(tc.format, tc.filename)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && seq != tc.wantSeq {
				t.Errorf("seq = %v, want %v", seq, tc.wantSeq)
			}
		})
	}
}

func TestExtractSequenceLeftInverse(t *testing.T) {
	format := "log_%t_%s_%r.arc"
	filename := "log_1_250_7.arc"
	seq, ok := ExtractSequence(format, filename)
	if !ok || seq != 250 {
		t.Fatalf("extract = (%v, %v), want (250, true)", seq, ok)
	}
}

func TestQueueOrdersBySequenceThenDiscovery(t *testing.T) {
	q := NewQueue()
	q.Enqueue("b.arc", 102)
	q.Enqueue("a.arc", 100)
	q.Enqueue("c.arc", 101)

	var order []redotypes.Seq
	for {
		c, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, c.Sequence)
	}
	want := []redotypes.Seq{100, 101, 102}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %v, want %v", i, order[i], want[i])
		}
	}
}

func TestQueueEnqueueIdempotent(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a.arc", 100)
	q.Enqueue("a-dup.arc", 100)
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}
