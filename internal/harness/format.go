package harness

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// OutputMarker is the first line of any non-empty run output.
const OutputMarker = "> "

// Format renders drained log entries as output text. undefined and null
// render as nothing, plain objects as indented JSON and everything else
// through its string conversion. A failure formatting one entry is replaced
// with a notice and does not affect the others.
func Format(vm *goja.Runtime, entries []goja.Value) string {
	if len(entries) == 0 {
		return ""
	}
	lines := []string{OutputMarker}
	for _, entry := range entries {
		text := formatEntry(vm, entry)
		if text == "" {
			continue
		}
		lines = append(lines, strings.Split(text, "\n")...)
	}
	return strings.Join(lines, "\n")
}

func formatEntry(vm *goja.Runtime, v goja.Value) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fmt.Sprintf("[unprintable log entry: %v]", r)
		}
	}()

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if obj, ok := v.(*goja.Object); ok && isPlainObject(obj) {
		s, err := stringify(vm, obj)
		if err != nil {
			return fmt.Sprintf("[unprintable log entry: %v]", err)
		}
		return s
	}
	return v.String()
}

// isPlainObject reports whether obj was built by the Object constructor.
func isPlainObject(obj *goja.Object) bool {
	ctor, ok := obj.Get("constructor").(*goja.Object)
	if !ok {
		return false
	}
	name := ctor.Get("name")
	return name != nil && name.String() == "Object"
}

func stringify(vm *goja.Runtime, v goja.Value) (string, error) {
	json := vm.Get("JSON")
	if json == nil {
		return "", fmt.Errorf("JSON is not available")
	}
	fn, ok := goja.AssertFunction(json.ToObject(vm).Get("stringify"))
	if !ok {
		return "", fmt.Errorf("JSON.stringify is not callable")
	}
	out, err := fn(json, v, goja.Null(), vm.ToValue(2))
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
