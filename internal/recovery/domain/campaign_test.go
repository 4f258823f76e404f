package domain

import (
	"fmt"
	"slices"
	"testing"
	"time"
)

func TestTemplateFor(t *testing.T) {
	tpl, ok := TemplateFor("gentle")
	if !ok {
		t.Fatal("gentle template missing")
	}
	if tpl.TotalSteps != 3 {
		t.Errorf("gentle total steps = %d, want 3", tpl.TotalSteps)
	}
	if len(tpl.StepOffsets) != tpl.TotalSteps {
		t.Errorf("gentle offsets = %d, want one per step", len(tpl.StepOffsets))
	}

	if _, ok := TemplateFor("bespoke"); ok {
		t.Error("unknown campaign type resolved to a template")
	}
}

func TestTemplatesAreWellFormed(t *testing.T) {
	for _, campaignType := range CampaignTypes() {
		tpl, ok := TemplateFor(campaignType)
		if !ok {
			t.Fatalf("CampaignTypes() returned unresolvable type %q", campaignType)
		}
		if tpl.TotalSteps < 1 || len(tpl.StepOffsets) != tpl.TotalSteps {
			t.Errorf("%s: steps = %d, offsets = %d", campaignType, tpl.TotalSteps, len(tpl.StepOffsets))
		}
		if len(tpl.DefaultChannels) == 0 {
			t.Errorf("%s: no default channels", campaignType)
		}
		for i := 1; i < len(tpl.StepOffsets); i++ {
			if tpl.StepOffsets[i] < tpl.StepOffsets[i-1] {
				t.Errorf("%s: offsets not monotonic at step %d", campaignType, i+1)
			}
		}
	}
}

func TestStepOffsetClamping(t *testing.T) {
	tpl, _ := TemplateFor("standard")

	if got := tpl.StepOffset(0); got != tpl.StepOffsets[0] {
		t.Errorf("StepOffset(0) = %v, want first offset", got)
	}
	if got := tpl.StepOffset(2); got != 24*time.Hour {
		t.Errorf("StepOffset(2) = %v, want 24h", got)
	}
	if got := tpl.StepOffset(99); got != tpl.StepOffsets[len(tpl.StepOffsets)-1] {
		t.Errorf("StepOffset(99) = %v, want last offset", got)
	}
}

func TestAssignABTestGroupDeterministic(t *testing.T) {
	first := AssignABTestGroup("cust_42", "standard")
	for i := 0; i < 10; i++ {
		if got := AssignABTestGroup("cust_42", "standard"); got != first {
			t.Fatalf("assignment changed between calls: %s then %s", first, got)
		}
	}
	if !slices.Contains([]string{"control", "variant_a", "variant_b"}, first) {
		t.Errorf("assignment = %q, not a known group", first)
	}
}

func TestAssignABTestGroupSpreads(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[AssignABTestGroup(fmt.Sprintf("cust_%d", i), "standard")] = true
	}
	if len(seen) != 3 {
		t.Errorf("100 customers landed in %d groups, want all 3", len(seen))
	}
}

func TestCampaignExhausted(t *testing.T) {
	c := &DunningCampaign{SequenceStep: 3, TotalSteps: 5, CurrentStepStatus: StepStatusSent}
	if c.Exhausted() {
		t.Error("mid-sequence campaign reported exhausted")
	}

	c.SequenceStep = 5
	c.CurrentStepStatus = StepStatusScheduled
	if c.Exhausted() {
		t.Error("final step still scheduled, reported exhausted")
	}

	c.CurrentStepStatus = StepStatusSent
	if !c.Exhausted() {
		t.Error("final step sent, not reported exhausted")
	}
}

func TestMergeMetadata(t *testing.T) {
	c := &DunningCampaign{Metadata: map[string]any{"a": 1, "b": "keep"}}
	c.MergeMetadata(map[string]any{"a": 2, "c": true})

	if c.Metadata["a"] != 2 || c.Metadata["b"] != "keep" || c.Metadata["c"] != true {
		t.Errorf("merged metadata = %v", c.Metadata)
	}

	var empty DunningCampaign
	empty.MergeMetadata(map[string]any{"k": "v"})
	if empty.Metadata["k"] != "v" {
		t.Error("merge into nil metadata failed")
	}
}
