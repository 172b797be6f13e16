package sched

import (
	"testing"
	"time"
)

func TestJobQueueFIFO(t *testing.T) {
	q := NewJobQueue()
	a := &fakeJob{name: "a"}
	b := &fakeJob{name: "b"}
	c := &fakeJob{name: "c"}
	q.Append(a, b)
	q.Append(c)
	q.Close()
	var got []string
	for {
		j, ok := q.Next()
		if !ok {
			break
		}
		got = append(got, j.(*fakeJob).name)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("drain order = %v, want [a b c]", got)
	}
}

func TestJobQueueNextBlocksUntilAppend(t *testing.T) {
	q := NewJobQueue()
	done := make(chan string, 1)
	go func() {
		j, ok := q.Next()
		if !ok {
			done <- "closed"
			return
		}
		done <- j.(*fakeJob).name
	}()
	// Give the consumer a chance to block first.
	time.Sleep(10 * time.Millisecond)
	q.Append(&fakeJob{name: "late"})
	select {
	case got := <-done:
		if got != "late" {
			t.Errorf("Next = %q, want late", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer still blocked after append")
	}
	q.Close()
	if _, ok := q.Next(); ok {
		t.Errorf("Next on closed empty queue reported a job")
	}
}

func TestJobQueueAppendAfterClosePanics(t *testing.T) {
	q := NewJobQueue()
	q.Close()
	defer func() {
		if recover() == nil {
			t.Errorf("Append on closed queue did not panic")
		}
	}()
	q.Append(&fakeJob{name: "x"})
}

func TestJobQueueDoubleClosePanics(t *testing.T) {
	q := NewJobQueue()
	q.Close()
	defer func() {
		if recover() == nil {
			t.Errorf("double Close did not panic")
		}
	}()
	q.Close()
}
