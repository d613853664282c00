package tool

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/sweetpotato0/taskpilot/errors"
)

func echoTool(name string, mutating bool) *Tool {
	return &Tool{
		Name:     name,
		Mutating: mutating,
		Handler: func(ctx context.Context, subQuery string, deps map[string]string) (string, error) {
			return name + ": " + subQuery, nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(echoTool("mail", true)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(echoTool("mail", true)); !errors.Is(err, pkgerrors.ErrAlreadyExists) {
		t.Fatalf("duplicate registration must fail with ErrAlreadyExists, got %v", err)
	}
	if err := r.Register(&Tool{}); !errors.Is(err, pkgerrors.ErrInvalidInput) {
		t.Fatalf("unnamed tool must be rejected, got %v", err)
	}

	got, err := r.Get("mail")
	if err != nil || got.Name != "mail" {
		t.Fatalf("get mail: %v %v", got, err)
	}
	if _, err := r.Get("ghost"); !errors.Is(err, pkgerrors.ErrToolNotFound) {
		t.Fatalf("unknown tool must yield ErrToolNotFound, got %v", err)
	}
}

func TestRegistryUpsertReplaces(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool("mail", true))

	replacement := echoTool("mail", false)
	replacement.Description = "v2"
	if err := r.Upsert(replacement); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := r.Get("mail")
	if got.Description != "v2" {
		t.Fatalf("upsert did not replace: %+v", got)
	}
}

func TestRegistryListIsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"task", "calendar", "mail"} {
		_ = r.Register(echoTool(name, false))
	}

	names := r.Names()
	if len(names) != 3 || names[0] != "calendar" || names[1] != "mail" || names[2] != "task" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestRegistryIsMutatingConservativeForUnknown(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool("search", false))
	_ = r.Register(echoTool("mail", true))

	if r.IsMutating("search") {
		t.Fatalf("search declared read-only")
	}
	if !r.IsMutating("mail") {
		t.Fatalf("mail declared mutating")
	}
	if !r.IsMutating("unknown") {
		t.Fatalf("unknown tools must count as mutating")
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool("search", false))

	out, err := r.Execute(context.Background(), "search", "find notes", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "search: find notes" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := r.Execute(context.Background(), "ghost", "q", nil); err == nil {
		t.Fatalf("executing an unknown tool must fail")
	}
}

func TestMaxResultsHintRoundTrip(t *testing.T) {
	ctx := context.Background()
	if MaxResults(ctx) != 0 {
		t.Fatalf("unset hint must read as 0")
	}

	ctx = WithMaxResults(ctx, 5)
	if MaxResults(ctx) != 5 {
		t.Fatalf("expected hint 5, got %d", MaxResults(ctx))
	}

	if got := MaxResults(WithMaxResults(context.Background(), 0)); got != 0 {
		t.Fatalf("non-positive hints must be ignored, got %d", got)
	}
	if got := MaxResults(WithMaxResults(context.Background(), -3)); got != 0 {
		t.Fatalf("non-positive hints must be ignored, got %d", got)
	}
}

func TestToolWithoutHandlerFails(t *testing.T) {
	tool := &Tool{Name: "broken"}
	if _, err := tool.Execute(context.Background(), "q", nil); err == nil {
		t.Fatalf("expected error for missing handler")
	}
}
