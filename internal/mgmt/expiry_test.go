package mgmt

import (
	"sync"
	"testing"
	"time"
)

func TestSweeperCallsOnExpire(t *testing.T) {
	agent := NewAgent(nil, nil)
	agent.RegisterSession("s1")
	agent.DetachSession("s1")

	var mu sync.Mutex
	var expired []string
	done := make(chan struct{}, 1)
	sweeper := NewSweeper(agent, time.Millisecond, time.Hour, func(id string) {
		mu.Lock()
		expired = append(expired, id)
		mu.Unlock()
		done <- struct{}{}
	}, nil)

	go sweeper.Run(5 * time.Millisecond)
	defer sweeper.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sweeper to expire session s1")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "s1" {
		t.Fatalf("expected s1 to be reported expired, got %v", expired)
	}
}
