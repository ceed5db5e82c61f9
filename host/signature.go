package host

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	gotypes "go/types"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// DefaultFuncs declares the value-returning exports of the test fixture.
var DefaultFuncs = []string{
	"add_one(x int64) int64",
	"sum(x, y int64) int64",
	"concat(a, b *C.char) *C.char",
}

// Kind is a Go type an export parameter or result can be declared as.
type Kind int

const (
	KindBool Kind = iota + 1
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindCString
	// KindString travels as (ptr, len).
	KindString
	// The slice kinds travel as (ptr, len, cap).
	KindBytes
	KindBoolSlice
	KindInt64Slice
	KindFloat64Slice
	KindStringSlice
)

var kindNames = map[Kind]string{
	KindBool:    "bool",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindCString: "*C.char",

	KindString:       "string",
	KindBytes:        "[]byte",
	KindBoolSlice:    "[]bool",
	KindInt64Slice:   "[]int64",
	KindFloat64Slice: "[]float64",
	KindStringSlice:  "[]string",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ValueType returns the wasm value type a Kind travels as. For strings and
// slices that is the type of each header field.
func (k Kind) ValueType() api.ValueType {
	switch k {
	case KindInt64, KindUint64:
		return api.ValueTypeI64
	case KindFloat32:
		return api.ValueTypeF32
	case KindFloat64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// IsSlice reports whether k is one of the slice kinds.
func (k Kind) IsSlice() bool {
	return k >= KindBytes && k <= KindStringSlice
}

// indirect reports whether k is passed by header and returned through a slot
// the caller provides.
func (k Kind) indirect() bool {
	return k == KindString || k.IsSlice()
}

// headerSize is the size of the in-memory header of an indirect kind.
func (k Kind) headerSize() uint32 {
	if k.IsSlice() {
		return 12
	}
	return 8
}

// elemSize is the in-memory size of a slice element.
func (k Kind) elemSize() uint32 {
	switch k {
	case KindInt64Slice, KindFloat64Slice, KindStringSlice:
		return 8
	default:
		return 1
	}
}

// valueTypes returns the wasm parameters a value of kind k expands to.
func (k Kind) valueTypes() []api.ValueType {
	n := 1
	if k.indirect() {
		n = int(k.headerSize() / 4)
	}
	vt := make([]api.ValueType, n)
	for i := range vt {
		vt[i] = k.ValueType()
	}
	return vt
}

// Signature is the declared Go type of an export.
type Signature struct {
	Name   string
	Params []Kind
	Result Kind
}

func (s Signature) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("%s(%s) %s", s.Name, strings.Join(params, ", "), s.Result)
}

// wasmParams returns the wasm parameters of the export s declares. A string
// or slice result adds a leading return slot address.
func (s Signature) wasmParams() []api.ValueType {
	var vt []api.ValueType
	if s.Result.indirect() {
		vt = append(vt, api.ValueTypeI32)
	}
	for _, p := range s.Params {
		vt = append(vt, p.valueTypes()...)
	}
	return vt
}

// check verifies s against the wasm definition of the export.
func (s Signature) check(def api.FunctionDefinition) error {
	params, want := def.ParamTypes(), s.wasmParams()
	if len(params) != len(want) {
		return fmt.Errorf("export takes %d parameters, declared %s takes %d", len(params), s, len(want))
	}
	for i, vt := range want {
		if vt != params[i] {
			return fmt.Errorf("parameter %d: export takes %s, declared %s", i, api.ValueTypeName(params[i]), api.ValueTypeName(vt))
		}
	}
	results := def.ResultTypes()
	if s.Result.indirect() {
		if len(results) != 0 {
			return fmt.Errorf("export returns %d values, want 0 for a %s result", len(results), s.Result)
		}
		return nil
	}
	if len(results) != 1 {
		return fmt.Errorf("export returns %d values, want 1", len(results))
	}
	if s.Result.ValueType() != results[0] {
		return fmt.Errorf("result: export returns %s, declared %s", api.ValueTypeName(results[0]), s.Result)
	}
	return nil
}

// ParseSignatures parses Go function declarations without bodies, e.g.
//
//	sum(x, y int64) int64
//	concat(a, b *C.char) *C.char
//	split(s string, sep []byte) []string
//
// The leading "func" keyword is optional. Each function must return exactly
// one value.
func ParseSignatures(decls []string) (map[string]Signature, error) {
	if len(decls) == 0 {
		return nil, nil
	}

	var src strings.Builder
	src.WriteString("package wasm\nimport \"C\"\n")
	for _, d := range decls {
		d = strings.TrimSpace(d)
		d = strings.TrimPrefix(d, "func ")
		src.WriteString("func ")
		src.WriteString(d)
		src.WriteByte('\n')
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", src.String(), 0)
	if err != nil {
		return nil, err
	}
	config := gotypes.Config{
		IgnoreFuncBodies: true,
		FakeImportC:      true,
	}
	if _, err = config.Check("wasm", fset, []*ast.File{f}, nil); err != nil {
		return nil, err
	}

	sigs := make(map[string]Signature, len(decls))
	for _, decl := range f.Decls {
		decl, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		name := decl.Name.Name
		var params []Kind
		for _, field := range decl.Type.Params.List {
			n, k, err := fieldKind(field)
			if err != nil {
				return nil, &SignatureError{Func: name, Err: err}
			}
			for range n {
				params = append(params, k)
			}
		}
		if decl.Type.Results == nil || len(decl.Type.Results.List) != 1 {
			return nil, &SignatureError{Func: name, Err: fmt.Errorf("must have one return value")}
		}
		n, ret, err := fieldKind(decl.Type.Results.List[0])
		if err != nil {
			return nil, &SignatureError{Func: name, Err: err}
		}
		if n != 1 {
			return nil, &SignatureError{Func: name, Err: fmt.Errorf("must have one return value: have %d", n)}
		}
		sigs[name] = Signature{Name: name, Params: params, Result: ret}
	}
	return sigs, nil
}

var identKinds = map[string]Kind{
	"bool":    KindBool,
	"int32":   KindInt32,
	"int64":   KindInt64,
	"uint32":  KindUint32,
	"uint64":  KindUint64,
	"float32": KindFloat32,
	"float64": KindFloat64,
	"string":  KindString,
}

var sliceKinds = map[string]Kind{
	"byte":    KindBytes,
	"uint8":   KindBytes,
	"bool":    KindBoolSlice,
	"int64":   KindInt64Slice,
	"float64": KindFloat64Slice,
	"string":  KindStringSlice,
}

// fieldKind returns the number of names sharing the field's type, and the type.
func fieldKind(field *ast.Field) (int, Kind, error) {
	n := len(field.Names)
	if n == 0 {
		n = 1
	}
	switch typ := field.Type.(type) {
	case *ast.Ident:
		k, ok := identKinds[typ.Name]
		if !ok {
			return 0, 0, fmt.Errorf("unsupported type: %s", typ.Name)
		}
		return n, k, nil
	case *ast.ArrayType:
		if typ.Len != nil {
			return 0, 0, fmt.Errorf("unsupported type: array")
		}
		elem, ok := typ.Elt.(*ast.Ident)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported slice element type: %T", typ.Elt)
		}
		k, ok := sliceKinds[elem.Name]
		if !ok {
			return 0, 0, fmt.Errorf("unsupported slice element type: %s", elem.Name)
		}
		return n, k, nil
	case *ast.StarExpr:
		sel, ok := typ.X.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "char" {
			return 0, 0, fmt.Errorf("unsupported pointer type")
		}
		if id, ok := sel.X.(*ast.Ident); !ok || id.Name != "C" {
			return 0, 0, fmt.Errorf("unsupported pointer type")
		}
		return n, KindCString, nil
	default:
		return 0, 0, fmt.Errorf("unsupported type: %T", typ)
	}
}
