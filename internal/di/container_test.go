package di

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestContainerRegistry(t *testing.T) {
	c := NewContainer()
	c.Register("tracker", 1)
	c.Register("runner", "r")

	if got := c.GetNames(); !reflect.DeepEqual(got, []string{"runner", "tracker"}) {
		t.Errorf("Expected sorted names, got %v", got)
	}
	if c.Get("missing") != nil {
		t.Error("Expected nil for an unregistered component")
	}
	if err := c.Require("runner", "tracker"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := c.Require("runner", "router"); err == nil || !strings.Contains(err.Error(), "router") {
		t.Errorf("Expected router to be reported, got %v", err)
	}
}

func TestContainerCloseOrder(t *testing.T) {
	c := NewContainer()
	var order []string
	boom := errors.New("boom")

	c.OnClose("database", func() error { order = append(order, "database"); return nil })
	c.OnClose("redis", func() error { order = append(order, "redis"); return boom })
	c.OnClose("runner", func() error { order = append(order, "runner"); return nil })

	err := c.Close()
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to wrap boom, got %v", err)
	}
	if want := []string{"runner", "redis", "database"}; !reflect.DeepEqual(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if len(order) != 3 {
		t.Errorf("Hooks ran twice: %v", order)
	}
}
