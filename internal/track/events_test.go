package track

import (
	"testing"

	"github.com/dmoralesc/vigia/internal/classify"
	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/timer"
)

func TestHooksDispatch(t *testing.T) {
	var fired []string
	var gotResult *model.Result
	var gotCategory classify.Category
	var gotRaw string
	var gotKind timer.Kind
	var gotLink string

	h := Hooks{
		OnQueued:     func() { fired = append(fired, "queued") },
		OnProcessing: func() { fired = append(fired, "processing") },
		OnDone: func(r *model.Result) {
			fired = append(fired, "done")
			gotResult = r
		},
		OnIncomplete: func() { fired = append(fired, "incomplete") },
		OnError: func(c classify.Category, raw string) {
			fired = append(fired, "error")
			gotCategory = c
			gotRaw = raw
		},
		OnTimeout: func(k timer.Kind) {
			fired = append(fired, "timeout")
			gotKind = k
		},
		OnEligible:  func() { fired = append(fired, "eligible") },
		OnUploading: func() { fired = append(fired, "uploading") },
		OnUploaded: func(link string) {
			fired = append(fired, "uploaded")
			gotLink = link
		},
	}

	result := &model.Result{Score: 15, Summary: "clean"}
	events := []RenderEvent{
		{Kind: RenderQueued},
		{Kind: RenderProcessing},
		{Kind: RenderDone, Result: result},
		{Kind: RenderIncomplete},
		{Kind: RenderError, Category: classify.ServerFault, Raw: "boom"},
		{Kind: RenderTimeout, TimerKind: timer.KindAnalysis},
		{Kind: RenderEligible},
		{Kind: RenderUploading},
		{Kind: RenderUploaded, Link: "https://media.example.com/a/1"},
	}
	for _, ev := range events {
		h.Dispatch(ev)
	}

	want := []string{"queued", "processing", "done", "incomplete", "error", "timeout", "eligible", "uploading", "uploaded"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}

	if gotResult != result {
		t.Error("done hook did not receive the result")
	}
	if gotCategory != classify.ServerFault || gotRaw != "boom" {
		t.Errorf("error hook got (%q, %q)", gotCategory, gotRaw)
	}
	if gotKind != timer.KindAnalysis {
		t.Errorf("timeout hook got kind %q", gotKind)
	}
	if gotLink != "https://media.example.com/a/1" {
		t.Errorf("uploaded hook got link %q", gotLink)
	}
}

func TestHooksDispatchSkipsNil(t *testing.T) {
	var h Hooks
	// No hooks registered; every kind must be a safe no-op.
	for _, kind := range []RenderKind{
		RenderQueued, RenderProcessing, RenderDone, RenderIncomplete,
		RenderError, RenderTimeout, RenderEligible, RenderUploading, RenderUploaded,
	} {
		h.Dispatch(RenderEvent{Kind: kind})
	}
}
