package graph

import (
	"context"
	"fmt"
	"testing"
)

func TestGraphExecutesSequentially(t *testing.T) {
	var order []string
	record := func(name string) NodeFunc {
		return func(ctx context.Context, state State) (State, error) {
			order = append(order, name)
			return state, nil
		}
	}

	g := NewBuilder().
		AddNode("first", NodeTypeStart, record("first")).
		AddNode("second", NodeTypeCustom, record("second")).
		AddNode("last", NodeTypeEnd, record("last")).
		AddEdge("first", "second").
		AddEdge("second", "last").
		SetStart("first").
		Build()

	state, err := g.Execute(context.Background(), State{"input": "x"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state["input"] != "x" {
		t.Fatalf("state lost during walk: %v", state)
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "last" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestGraphConditionBranching(t *testing.T) {
	passthrough := func(ctx context.Context, state State) (State, error) { return state, nil }

	g := NewBuilder().
		AddNode("start", NodeTypeStart, passthrough).
		AddConditionNode("pick", func(ctx context.Context, state State) (string, error) {
			if state["go_left"] == true {
				return "left", nil
			}
			return "right", nil
		}, map[string]string{"left": "left", "right": "right"}).
		AddNode("left", NodeTypeEnd, func(ctx context.Context, state State) (State, error) {
			state["took"] = "left"
			return state, nil
		}).
		AddNode("right", NodeTypeEnd, func(ctx context.Context, state State) (State, error) {
			state["took"] = "right"
			return state, nil
		}).
		AddEdge("start", "pick").
		SetStart("start").
		Build()

	state, err := g.Execute(context.Background(), State{"go_left": true})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state["took"] != "left" {
		t.Fatalf("expected left branch, took %v", state["took"])
	}

	state, err = g.Execute(context.Background(), State{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state["took"] != "right" {
		t.Fatalf("expected right branch, took %v", state["took"])
	}
}

func TestGraphDetectsInfiniteLoops(t *testing.T) {
	passthrough := func(ctx context.Context, state State) (State, error) { return state, nil }

	g := NewBuilder().
		AddNode("a", NodeTypeStart, passthrough).
		AddNode("b", NodeTypeCustom, passthrough).
		AddEdge("a", "b").
		AddEdge("b", "a").
		SetStart("a").
		SetMaxVisits(3).
		Build()

	if _, err := g.Execute(context.Background(), nil); err == nil {
		t.Fatalf("expected loop detection error")
	}
}

func TestGraphStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	g := NewBuilder().
		AddNode("start", NodeTypeStart, func(ctx context.Context, state State) (State, error) {
			cancel()
			return state, nil
		}).
		AddNode("never", NodeTypeEnd, func(ctx context.Context, state State) (State, error) {
			return nil, fmt.Errorf("must not run")
		}).
		AddEdge("start", "never").
		SetStart("start").
		Build()

	if _, err := g.Execute(ctx, nil); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGraphPropagatesNodeErrors(t *testing.T) {
	g := NewBuilder().
		AddNode("boom", NodeTypeStart, func(ctx context.Context, state State) (State, error) {
			return nil, fmt.Errorf("node exploded")
		}).
		SetStart("boom").
		Build()

	_, err := g.Execute(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected node error to propagate")
	}
}
