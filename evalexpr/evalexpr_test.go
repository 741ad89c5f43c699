package evalexpr

import (
	"testing"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/moduleimage"
)

func newCtx() EvalContext {
	proc := moduleimage.NewProcess()
	proc.AddModule(&moduleimage.Module{
		Name: "hello.exe", Base: 0x140000000, Size: 0x5000,
		Exports: []moduleimage.Export{
			{Name: "Main", Target: moduleimage.ExportTarget{RVA: 0x1000}},
		},
	})
	return EvalContext{Process: proc, Thread: cpucontext.ThreadContext{Rax: 0x42, Rip: 0x140001000}}
}

func TestEvalDecimalLiteral(t *testing.T) {
	v, err := Eval(newCtx(), "123")
	if err != nil || v != 123 {
		t.Fatalf("Eval(123) = %d, %v", v, err)
	}
}

func TestEvalHexLiteral(t *testing.T) {
	v, err := Eval(newCtx(), "0x2A")
	if err != nil || v != 0x2A {
		t.Fatalf("Eval(0x2A) = %d, %v", v, err)
	}
}

func TestEvalRegisterSigilCaseInsensitive(t *testing.T) {
	v, err := Eval(newCtx(), "@RAX")
	if err != nil || v != 0x42 {
		t.Fatalf("Eval(@RAX) = %d, %v", v, err)
	}
}

func TestEvalUnknownRegister(t *testing.T) {
	if _, err := Eval(newCtx(), "@zmm0"); err == nil {
		t.Error("expected error for unknown register")
	}
}

func TestEvalQualifiedSymbol(t *testing.T) {
	v, err := Eval(newCtx(), "hello.exe!Main")
	if err != nil {
		t.Fatalf("Eval(hello.exe!Main) error: %v", err)
	}
	if v != 0x140001000 {
		t.Errorf("v = %#x, want %#x", v, 0x140001000)
	}
}

func TestEvalSymbolPlusOffset(t *testing.T) {
	v, err := Eval(newCtx(), "hello.exe!Main + 0x10")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if v != 0x140001010 {
		t.Errorf("v = %#x, want %#x", v, 0x140001010)
	}
}

func TestEvalAddOverflowTraps(t *testing.T) {
	expr := "0xFFFFFFFFFFFFFFFF + 1"
	if _, err := Eval(newCtx(), expr); err == nil {
		t.Error("expected overflow error")
	}
}

func TestParseFailureHasSpan(t *testing.T) {
	_, err := Parse("@")
	if err == nil {
		t.Fatal("expected parse error")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
	if pe.Start != 0 {
		t.Errorf("Start = %d, want 0", pe.Start)
	}
}

func TestParseTrailingGarbageFails(t *testing.T) {
	if _, err := Parse("123 456"); err == nil {
		t.Error("expected trailing-input error (missing '+')")
	}
}

func TestParseDoesNotConsumeOnFailure(t *testing.T) {
	_, err1 := Parse("+5")
	_, err2 := Parse("+5")
	if err1 == nil || err2 == nil {
		t.Error("leading '+' should fail to parse both times")
	}
}
