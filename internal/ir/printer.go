package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a simple human-readable representation of the program.
func Dump(prog *Program, w io.Writer) {
	if prog == nil {
		fmt.Fprintln(w, "<nil program>")
		return
	}
	for _, fn := range prog.Functions {
		DumpFunction(fn, w)
		fmt.Fprintln(w)
	}
}

// DumpFunction writes one function.
func DumpFunction(fn *Function, w io.Writer) {
	params := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		params = append(params, fmt.Sprintf("%s %s%s", p.Name, p.Type, bitValuesSuffix(p.BitValues)))
	}
	result := "void"
	if fn.Result != nil {
		result = fn.Result.String()
	}
	var flags []string
	if fn.Root {
		flags = append(flags, "root")
	}
	if fn.AddressTaken {
		flags = append(flags, "address-taken")
	}
	flagText := ""
	if len(flags) > 0 {
		flagText = " [" + strings.Join(flags, ",") + "]"
	}
	fmt.Fprintf(w, "func %s(%s) %s%s%s\n", fn.Name, strings.Join(params, ", "), result, bitValuesSuffix(fn.BitValues), flagText)
	for _, b := range fn.Blocks {
		fmt.Fprintf(w, "  block %d%s\n", b.Index, edgeComment(b))
		for _, s := range b.Stmts {
			fmt.Fprintf(w, "    %s\n", RenderStmt(s))
		}
	}
}

func edgeComment(b *Block) string {
	if len(b.Preds) == 0 {
		return ""
	}
	preds := make([]string, 0, len(b.Preds))
	for _, p := range b.Preds {
		preds = append(preds, fmt.Sprint(p.Index))
	}
	return " (preds " + strings.Join(preds, ",") + ")"
}

// RenderStmt formats a statement on one line.
func RenderStmt(s Stmt) string {
	switch st := s.(type) {
	case *Assign:
		rhs := RenderExpr(st.Expr)
		if st.Dest == nil {
			return rhs
		}
		keep := ""
		if st.Keep {
			keep = " keep"
		}
		return fmt.Sprintf("%s %s = %s%s%s", st.Dest.Name, st.Dest.Type, rhs, valueSuffix(st.Dest), keep)
	case *Phi:
		edges := make([]string, 0, len(st.Edges))
		for _, e := range st.Edges {
			edges = append(edges, operandText(e))
		}
		return fmt.Sprintf("%s %s = phi(%s)%s", st.Dest.Name, st.Dest.Type, strings.Join(edges, ", "), valueSuffix(st.Dest))
	case *Return:
		if st.Result == nil {
			return "return"
		}
		return "return " + operandText(st.Result)
	case *If:
		return "if " + operandText(st.Cond)
	case *Jump:
		return "jump"
	default:
		return fmt.Sprintf("<unknown stmt %T>", s)
	}
}

// RenderExpr formats an expression.
func RenderExpr(e Expr) string {
	switch ex := e.(type) {
	case *UnaryExpr:
		if ex.Op == Copy {
			return operandText(ex.X)
		}
		return fmt.Sprintf("%s(%s)", ex.Op, operandText(ex.X))
	case *BinaryExpr:
		if sym := binarySymbol(ex.Op); sym != "" {
			return fmt.Sprintf("%s %s %s", operandText(ex.X), sym, operandText(ex.Y))
		}
		return fmt.Sprintf("%s(%s, %s)", ex.Op, operandText(ex.X), operandText(ex.Y))
	case *ConcatExpr:
		return fmt.Sprintf("bit_ior_concat(%s, %s, %d)", operandText(ex.Hi), operandText(ex.Lo), ex.Offset)
	case *CondExpr:
		return fmt.Sprintf("%s ? %s : %s", operandText(ex.Cond), operandText(ex.Then), operandText(ex.Else))
	case *LutExpr:
		ins := make([]string, 0, len(ex.Inputs))
		for _, in := range ex.Inputs {
			ins = append(ins, operandText(in))
		}
		return fmt.Sprintf("lut(%#x; %s)", ex.Table, strings.Join(ins, ", "))
	case *CallExpr:
		args := make([]string, 0, len(ex.Args))
		for _, a := range ex.Args {
			args = append(args, operandText(a))
		}
		target := ex.Target
		if ex.Callee != nil {
			target = ex.Callee.Name
		}
		if ex.Indirect {
			target = "*" + target
		}
		return fmt.Sprintf("call %s(%s)", target, strings.Join(args, ", "))
	default:
		return fmt.Sprintf("<unknown expr %T>", e)
	}
}

func binarySymbol(op BinaryOp) string {
	switch op {
	case Plus:
		return "+"
	case Minus:
		return "-"
	case Mult:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	case BitAnd:
		return "&"
	case BitOr:
		return "|"
	case BitXor:
		return "^"
	case TruthAnd:
		return "&&"
	case TruthOr:
		return "||"
	case Lshift:
		return "<<"
	case Rshift:
		return ">>"
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return ""
	}
}

func operandText(op Operand) string {
	if op == nil {
		return "<nil>"
	}
	if c, ok := op.(*Const); ok {
		return fmt.Sprintf("%s:%s", c, c.Type)
	}
	return op.String()
}

func valueSuffix(v *Value) string {
	out := bitValuesSuffix(v.BitValues)
	if v.Range != nil {
		out += fmt.Sprintf(" range[%s, %s]", FormatInt(v.Range.Min, v.Type), FormatInt(v.Range.Max, v.Type))
	}
	return out
}

func bitValuesSuffix(bv string) string {
	if bv == "" {
		return ""
	}
	return " <" + bv + ">"
}
