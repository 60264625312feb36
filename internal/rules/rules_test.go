package rules

import (
	"encoding/json"
	"errors"
	"testing"
)

func v(path string) *Node  { return &Node{Op: OpVar, Path: path} }
func c(value any) *Node    { return &Node{Op: OpConst, Value: value} }
func cmp(op Op, l, r *Node) Node {
	return Node{Op: op, Left: l, Right: r}
}

func testCtx() map[string]any {
	return map[string]any{
		"type":        "threat_detected",
		"source_type": "device",
		"source_id":   "dev-1",
		"payload": map[string]any{
			"threat_type": "firearm",
			"confidence":  0.9,
			"zone":        map[string]any{"sector": 3.0},
			"armed":       true,
		},
	}
}

func TestEvaluateComparisons(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"eq string match", cmp(OpEq, v("payload.threat_type"), c("firearm")), true},
		{"eq string mismatch", cmp(OpEq, v("payload.threat_type"), c("knife")), false},
		{"ne string", cmp(OpNe, v("payload.threat_type"), c("knife")), true},
		{"ge float", cmp(OpGe, v("payload.confidence"), c(0.8)), true},
		{"gt float false", cmp(OpGt, v("payload.confidence"), c(0.9)), false},
		{"le float", cmp(OpLe, v("payload.confidence"), c(0.9)), true},
		{"lt nested path", cmp(OpLt, v("payload.zone.sector"), c(5)), true},
		{"int/float coercion", cmp(OpEq, v("payload.zone.sector"), c(3)), true},
		{"string/number never coerce eq", cmp(OpEq, v("payload.threat_type"), c(3)), false},
		{"string/number never coerce ne", cmp(OpNe, v("payload.threat_type"), c(3)), false},
		{"string/number never coerce gt", cmp(OpGt, v("payload.confidence"), c("0.5")), false},
		{"bool eq", cmp(OpEq, v("payload.armed"), c(true)), true},
		{"bool ordering false", cmp(OpGt, v("payload.armed"), c(false)), false},
		{"string ordering", cmp(OpGt, v("payload.threat_type"), c("drone")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.node, testCtx(), nil); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateNullSemantics(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"missing path eq null", cmp(OpEq, v("payload.nope"), c(nil)), true},
		{"missing path ne null", cmp(OpNe, v("payload.nope"), c(nil)), false},
		{"missing path eq value", cmp(OpEq, v("payload.nope"), c("firearm")), false},
		{"missing path ne value", cmp(OpNe, v("payload.nope"), c("firearm")), true},
		{"missing path gt", cmp(OpGt, v("payload.nope"), c(1)), false},
		{"missing path le", cmp(OpLe, v("payload.nope"), c(1)), false},
		{"deep missing path", cmp(OpEq, v("payload.zone.missing.deeper"), c(nil)), true},
		{"path through scalar", cmp(OpEq, v("payload.confidence.sub"), c(nil)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.node, testCtx(), nil); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateLogical(t *testing.T) {
	match := cmp(OpEq, v("payload.threat_type"), c("firearm"))
	miss := cmp(OpEq, v("payload.threat_type"), c("knife"))

	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"and all true", Node{Op: OpAnd, Args: []Node{match, match}}, true},
		{"and one false", Node{Op: OpAnd, Args: []Node{match, miss}}, false},
		{"or one true", Node{Op: OpOr, Args: []Node{miss, match}}, true},
		{"or all false", Node{Op: OpOr, Args: []Node{miss, miss}}, false},
		{"not", Node{Op: OpNot, Args: []Node{miss}}, true},
		{"nested", Node{Op: OpAnd, Args: []Node{
			match,
			{Op: OpOr, Args: []Node{miss, cmp(OpGe, v("payload.confidence"), c(0.8))}},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.node, testCtx(), nil); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateShortCircuit(t *testing.T) {
	match := cmp(OpEq, v("payload.threat_type"), c("firearm"))
	malformed := Node{Op: "bogus"}

	var diags []string
	diag := func(msg string) { diags = append(diags, msg) }

	// or short-circuits before reaching the malformed branch.
	got := Evaluate(Node{Op: OpOr, Args: []Node{match, malformed}}, testCtx(), diag)
	if !got {
		t.Error("Evaluate() = false, want true")
	}
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none (short-circuit)", diags)
	}

	// and stops at its first false argument.
	miss := cmp(OpEq, v("payload.threat_type"), c("knife"))
	got = Evaluate(Node{Op: OpAnd, Args: []Node{miss, malformed}}, testCtx(), diag)
	if got {
		t.Error("Evaluate() = true, want false")
	}
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none (short-circuit)", diags)
	}
}

func TestEvaluateMalformedIsTotal(t *testing.T) {
	malformed := []Node{
		{Op: "bogus"},
		{Op: OpAnd},
		{Op: OpNot, Args: []Node{{Op: OpConst, Value: true}, {Op: OpConst, Value: true}}},
		{Op: OpEq, Left: v("x")},
		{Op: OpVar, Path: "payload.confidence"},
		{Op: OpEq, Left: &Node{Op: OpAnd}, Right: c(1)},
		{Op: OpEq, Left: &Node{Op: OpVar}, Right: c(1)},
	}

	for i, n := range malformed {
		var diags []string
		got := Evaluate(n, testCtx(), func(msg string) { diags = append(diags, msg) })
		if got {
			t.Errorf("case %d: Evaluate() = true, want false", i)
		}
		if len(diags) != 1 {
			t.Errorf("case %d: diagnostics = %d, want exactly 1", i, len(diags))
		}
	}
}

func TestEvaluateNilDiagnostic(t *testing.T) {
	// Must not panic without a diagnostic callback.
	if Evaluate(Node{Op: "bogus"}, testCtx(), nil) {
		t.Error("Evaluate() = true, want false")
	}
}

func TestEvaluateJSONRoundTrip(t *testing.T) {
	raw := `{"op":"and","args":[
		{"op":"eq","left":{"op":"var","path":"type"},"right":{"op":"const","value":"threat_detected"}},
		{"op":"ge","left":{"op":"var","path":"payload.confidence"},"right":{"op":"const","value":0.8}}
	]}`

	var n Node
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := Validate(n); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !Evaluate(n, testCtx(), nil) {
		t.Error("Evaluate() = false, want true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantErr bool
	}{
		{"valid comparison", cmp(OpEq, v("type"), c("heartbeat")), false},
		{"valid nested", Node{Op: OpNot, Args: []Node{cmp(OpGt, v("payload.confidence"), c(0.5))}}, false},
		{"unknown op", Node{Op: "bogus"}, true},
		{"empty and", Node{Op: OpAnd}, true},
		{"not arity", Node{Op: OpNot, Args: []Node{cmp(OpEq, v("a"), c(1)), cmp(OpEq, v("b"), c(2))}}, true},
		{"missing operand", Node{Op: OpEq, Left: v("x")}, true},
		{"var without path", cmp(OpEq, &Node{Op: OpVar}, c(1)), true},
		{"non-scalar const", cmp(OpEq, v("x"), c(map[string]any{"a": 1})), true},
		{"leaf in boolean position", *v("payload.armed"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.node)
			if tt.wantErr && !errors.Is(err, ErrMalformedRule) {
				t.Errorf("Validate() error = %v, want ErrMalformedRule", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestValidateDepthLimit(t *testing.T) {
	n := cmp(OpEq, v("x"), c(1))
	for i := 0; i < maxTreeDepth+1; i++ {
		n = Node{Op: OpNot, Args: []Node{n}}
	}
	if err := Validate(n); !errors.Is(err, ErrMalformedRule) {
		t.Errorf("Validate() error = %v, want ErrMalformedRule", err)
	}
}
