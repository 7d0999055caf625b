package llmjson

import (
	"errors"
	"testing"
)

type testPlan struct {
	Summary string `json:"summary"`
}

func TestExtractObjectDirect(t *testing.T) {
	var plan testPlan
	if err := ExtractObject(`{"summary": "ok"}`, &plan); err != nil {
		t.Fatalf("direct parse failed: %v", err)
	}
	if plan.Summary != "ok" {
		t.Fatalf("unexpected summary %q", plan.Summary)
	}
}

func TestExtractObjectFenced(t *testing.T) {
	raw := "```json\n{\"summary\": \"fenced\"}\n```"
	var plan testPlan
	if err := ExtractObject(raw, &plan); err != nil {
		t.Fatalf("fenced parse failed: %v", err)
	}
	if plan.Summary != "fenced" {
		t.Fatalf("unexpected summary %q", plan.Summary)
	}
}

func TestExtractObjectFenceWithoutClose(t *testing.T) {
	raw := "```json\n{\"summary\": \"open fence\"}"
	var plan testPlan
	if err := ExtractObject(raw, &plan); err != nil {
		t.Fatalf("open fence parse failed: %v", err)
	}
	if plan.Summary != "open fence" {
		t.Fatalf("unexpected summary %q", plan.Summary)
	}
}

func TestExtractObjectEmbeddedInProse(t *testing.T) {
	raw := "Here is the plan you asked for:\n\n{\"summary\": \"embedded\"}\n\nLet me know if you need more."
	var plan testPlan
	if err := ExtractObject(raw, &plan); err != nil {
		t.Fatalf("embedded parse failed: %v", err)
	}
	if plan.Summary != "embedded" {
		t.Fatalf("unexpected summary %q", plan.Summary)
	}
}

func TestExtractObjectNoJSON(t *testing.T) {
	var plan testPlan
	err := ExtractObject("I could not produce a plan.", &plan)
	if err == nil {
		t.Fatal("expected error for prose-only response")
	}
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestExtractArrayFencedWithProse(t *testing.T) {
	raw := "Sure, here are the edits:\n```json\n[{\"summary\": \"a\"}, {\"summary\": \"b\"}]\n```"
	var items []testPlan
	if err := ExtractArray(raw, &items); err != nil {
		t.Fatalf("array parse failed: %v", err)
	}
	if len(items) != 2 || items[1].Summary != "b" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestExtractArrayEmpty(t *testing.T) {
	var items []testPlan
	if err := ExtractArray("[]", &items); err != nil {
		t.Fatalf("empty array parse failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestExtractObjectBOM(t *testing.T) {
	var plan testPlan
	if err := ExtractObject("\uFEFF{\"summary\": \"bom\"}", &plan); err != nil {
		t.Fatalf("BOM-prefixed parse failed: %v", err)
	}
	if plan.Summary != "bom" {
		t.Fatalf("unexpected summary %q", plan.Summary)
	}
}
