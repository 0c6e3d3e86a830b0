package config

import (
	"context"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: `columns = 2 + 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["columns"] != int64(4) {
					t.Errorf("expected columns=4, got %v", sr.Output["columns"])
				}
			},
		},
		{
			name: "input variables",
			script: `
greeting = "Hello, " + visitor + "!"
`,
			input: map[string]interface{}{"visitor": "guest"},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["greeting"] != "Hello, guest!" {
					t.Errorf("unexpected greeting %v", sr.Output["greeting"])
				}
				if _, ok := sr.Output["visitor"]; ok {
					t.Error("predeclared input must not be exported")
				}
			},
		},
		{
			name: "helper functions are not exported",
			script: `
def teaser(items, n):
    return [i.upper() for i in items[:n]]

headlines = teaser(news, 2)
_scratch = 1
`,
			input: map[string]interface{}{"news": []string{"alpha", "beta", "gamma"}},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if len(sr.Output) != 1 {
					t.Fatalf("expected only headlines, got %v", sr.Output)
				}
				headlines, ok := sr.Output["headlines"].([]interface{})
				if !ok || len(headlines) != 2 || headlines[0] != "ALPHA" {
					t.Errorf("unexpected headlines %v", sr.Output["headlines"])
				}
			},
		},
		{
			name: "dicts and structs",
			script: `
menu = {"home": "/", "news": "/news"}
meta = struct(title = "Welcome", pages = len(menu))
pairs = [(k, v) for k, v in zip(["a", "b"], [1, 2])]
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				menu, ok := sr.Output["menu"].(map[string]interface{})
				if !ok || menu["news"] != "/news" {
					t.Errorf("unexpected menu %v", sr.Output["menu"])
				}
				meta, ok := sr.Output["meta"].(map[string]interface{})
				if !ok || meta["title"] != "Welcome" || meta["pages"] != int64(2) {
					t.Errorf("unexpected meta %v", sr.Output["meta"])
				}
				pairs, ok := sr.Output["pairs"].([]interface{})
				if !ok || len(pairs) != 2 {
					t.Errorf("unexpected pairs %v", sr.Output["pairs"])
				}
			},
		},
		{
			name: "map input",
			script: `
label = params["label"] + " (" + str(params["count"]) + ")"
`,
			input: map[string]interface{}{
				"params": map[string]interface{}{"label": "Posts", "count": 3},
			},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["label"] != "Posts (3)" {
					t.Errorf("unexpected label %v", sr.Output["label"])
				}
			},
		},
		{
			name: "json and math modules",
			script: `
payload = json.encode({"cols": 3})
side = math.sqrt(16)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["payload"] != `{"cols":3}` {
					t.Errorf("unexpected payload %v", sr.Output["payload"])
				}
				if sr.Output["side"] != float64(4) {
					t.Errorf("unexpected side %v", sr.Output["side"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `invalid syntax here`,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `result = undefined_variable`,
			wantErr: true,
		},
		{
			name:    "non-string dict keys",
			script:  `result = {1: "one"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, tt.script, tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				if result == nil || result.Error == "" {
					t.Error("expected error in result")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Error != "" {
				t.Errorf("unexpected result error: %s", result.Error)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
			if result.ExecutionTime == 0 {
				t.Error("expected non-zero execution time")
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50 * time.Millisecond)

	script := `
def spin():
    n = 0
    for i in range(100000000):
        n = n + i
    return n

output = spin()
`

	result, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if result == nil || result.Error == "" {
		t.Error("expected timeout error in result")
	}
}

func TestStarlarkEvaluator_Print(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	result, err := evaluator.Evaluate(context.Background(), `
print("not shown")
result = "done"
`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["result"] != "done" {
		t.Errorf("expected result='done', got %v", result.Output["result"])
	}
}

func TestCUEParser_EvaluateStarlark(t *testing.T) {
	parser := NewCUEParser()

	out, err := parser.EvaluateStarlark(context.Background(), `total = a + b`, map[string]interface{}{"a": 1, "b": int64(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["total"] != int64(3) {
		t.Errorf("expected total=3, got %v", out["total"])
	}

	if _, err := parser.EvaluateStarlark(context.Background(), `fail("boom")`, nil); err == nil {
		t.Error("expected error from fail()")
	}
}
