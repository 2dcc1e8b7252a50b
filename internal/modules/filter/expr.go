package filter

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// programs caches compiled expressions; a *vm.Program is safe for concurrent use.
var programs sync.Map

// compile returns the compiled program of source. Undefined variables
// evaluate to nil so that missing fields do not fail the expression.
func compile(source string) (*vm.Program, error) {
	if p, ok := programs.Load(source); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", source, err)
	}
	programs.Store(source, p)
	return p, nil
}
