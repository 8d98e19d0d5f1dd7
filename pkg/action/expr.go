package action

import (
	"fmt"

	"github.com/dop251/goja"
)

// evalBool evaluates a JavaScript expression with each top-level key of
// values bound as a global (inputs, outputs, resources, ...).
func evalBool(expr string, values map[string]any) (bool, error) {
	vm := goja.New()
	for k, v := range values {
		if err := vm.Set(k, v); err != nil {
			return false, fmt.Errorf("set %s: %w", k, err)
		}
	}
	val, err := vm.RunString(expr)
	if err != nil {
		return false, fmt.Errorf("evaluate rule %q: %w", expr, err)
	}
	if goja.IsUndefined(val) || goja.IsNull(val) {
		return false, nil
	}
	return val.ToBoolean(), nil
}
