package queue

import "testing"

func TestNewCronSourceRejectsBadSpec(t *testing.T) {
	q := New(Config{OnTask: func(*Task) (any, error) { return nil, nil }})
	if _, err := NewCronSource(q, "not a schedule", func() any { return nil }, EnqueueOptions{}); err == nil {
		t.Fatal("expected an error for an unparseable schedule")
	}
}

func TestCronSourceStartStop(t *testing.T) {
	q := New(Config{OnTask: func(*Task) (any, error) { return nil, nil }})
	src, err := NewCronSource(q, "@every 1h", func() any { return "tick" }, EnqueueOptions{})
	if err != nil {
		t.Fatalf("new cron source: %v", err)
	}
	src.Start()
	<-src.Stop().Done()
}
