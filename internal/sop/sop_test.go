package sop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// repo catalog, relative to this package
const catalogPath = "../../data/kb/sop.json5"

func TestLoadRepoCatalog(t *testing.T) {
	cat, err := Load(catalogPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, intent := range []string{"mati", "bau", "bunyi"} {
		if cat.Flow(intent) == nil {
			t.Errorf("intent %q missing", intent)
		}
	}
	if got := len(cat.IntentIDs()); got != 3 {
		t.Errorf("IntentIDs = %d, want 3", got)
	}
}

func TestMatiFlowShape(t *testing.T) {
	cat, err := Load(catalogPath)
	if err != nil {
		t.Fatal(err)
	}
	flow := cat.Flow("mati")

	first := flow.First()
	if first == nil || first.ID != "cek_cover" {
		t.Fatalf("first step = %+v", first)
	}
	if !strings.Contains(strings.ToLower(first.AskTemplates[0]), "cover") {
		t.Errorf("first mati ask should mention cover: %q", first.AskTemplates[0])
	}

	branch, ok := first.OnAnswer("yes")
	if !ok || !branch.Instruct || branch.Next != "cek_mcb" {
		t.Errorf("cek_cover on_answer_yes = %+v", branch)
	}
	if !strings.Contains(first.InstructTemplates[0], "LOW") {
		t.Errorf("instruct template should mention LOW: %q", first.InstructTemplates[0])
	}

	mcb := flow.Step("cek_mcb")
	if mcb == nil {
		t.Fatal("cek_mcb missing")
	}
	if branch, ok := mcb.OnAnswer("no"); !ok || !branch.Pending {
		t.Errorf("cek_mcb on_answer_no = %+v", branch)
	}
	if branch, ok := mcb.OnAnswer("yes"); !ok || !branch.Confirm || !branch.ResolveIfYes {
		t.Errorf("cek_mcb on_answer_yes = %+v", branch)
	}
}

func TestBunyiExpectsFrequency(t *testing.T) {
	cat, err := Load(catalogPath)
	if err != nil {
		t.Fatal(err)
	}
	first := cat.Flow("bunyi").First()
	if !first.Expects("sering") || !first.Expects("jarang") {
		t.Errorf("bunyi first step expected_result = %v", first.ExpectedResult)
	}
	if branch, ok := first.OnAnswer("sering"); !ok || !branch.Pending {
		t.Errorf("on_answer_sering = %+v", branch)
	}
}

func TestValidateCatchesBadCatalog(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantSub string
	}{
		{
			"missing branch for expected answer",
			`{
				intents: { x: { steps: [
					{ id: "a", order: 1, ask_templates: ["tanya?"], expected_result: ["yes"], logic: {} },
				]}},
				metadata: { general_templates: { clarify: ["c"], closing_resolved: ["r"], closing_pending: ["p"] } },
			}`,
			"no on_answer branch",
		},
		{
			"dangling next reference",
			`{
				intents: { x: { steps: [
					{ id: "a", order: 1, ask_templates: ["tanya?"], expected_result: ["yes"],
					  logic: { on_answer_yes: { next: "nope" } } },
				]}},
				metadata: { general_templates: { clarify: ["c"], closing_resolved: ["r"], closing_pending: ["p"] } },
			}`,
			"next reference nope not found",
		},
		{
			"instruct branch without template",
			`{
				intents: { x: { steps: [
					{ id: "a", order: 1, ask_templates: ["tanya?"], expected_result: ["yes"],
					  logic: { on_answer_yes: { instruct: true } } },
				]}},
				metadata: { general_templates: { clarify: ["c"], closing_resolved: ["r"], closing_pending: ["p"] } },
			}`,
			"no instruct templates",
		},
		{
			"duplicate step id",
			`{
				intents: { x: { steps: [
					{ id: "a", order: 1, ask_templates: ["t?"], logic: {} },
					{ id: "a", order: 2, ask_templates: ["t?"], logic: {} },
				]}},
				metadata: { general_templates: { clarify: ["c"], closing_resolved: ["r"], closing_pending: ["p"] } },
			}`,
			"duplicate step id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sop.json5")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json5")); err == nil {
		t.Fatal("want error for missing file")
	}
}
