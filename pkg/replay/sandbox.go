package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

// maxValueDepth bounds nesting when converting between Lua tables and JSON
const maxValueDepth = 64

// host is what the module's state.* functions operate on
type host interface {
	get(table, key string) (string, bool)
	put(table, key, value string) error
	del(table, key string) error
	keys(table string) []string
}

// newSandbox creates a Lua state with only deterministic libraries loaded
func newSandbox(logger logging.Logger) *lua.State {
	l := lua.NewState()

	libs := []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
		{"bit32", lua.Bit32Open},
	}
	for _, lib := range libs {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		l.PushNil()
		l.SetGlobal(name)
	}

	// math.random would make replay nondeterministic
	l.Global("math")
	l.PushNil()
	l.SetField(-2, "random")
	l.PushNil()
	l.SetField(-2, "randomseed")
	l.Pop(1)

	l.PushGoFunction(func(l *lua.State) int {
		n := l.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, describe(l, i))
		}
		logger.Debug("module print", logging.String("message", strings.Join(parts, "\t")))
		return 0
	})
	l.SetGlobal("print")

	return l
}

// describe renders a value for print without invoking metamethods
func describe(l *lua.State, index int) string {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return fmt.Sprint(n)
	case lua.TypeBoolean:
		return fmt.Sprint(l.ToBoolean(index))
	case lua.TypeNil:
		return "nil"
	default:
		return lua.TypeNameOf(l, index)
	}
}

// installHostAPI sets the state, json and params globals. A nil target makes reads return nil
// and writes fail, which is what the top-level chunk sees.
func installHostAPI(l *lua.State, target host, params map[string]string) {
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "get", Function: func(l *lua.State) int {
			table, key := lua.CheckString(l, 1), lua.CheckString(l, 2)
			if target == nil {
				l.PushNil()
				return 1
			}
			if v, ok := target.get(table, key); ok {
				l.PushString(v)
			} else {
				l.PushNil()
			}
			return 1
		}},
		{Name: "put", Function: func(l *lua.State) int {
			table, key := lua.CheckString(l, 1), lua.CheckString(l, 2)
			if l.IsNoneOrNil(3) {
				lua.ArgumentError(l, 3, "value expected")
			}
			value, err := valueText(l, 3)
			if err != nil {
				lua.Errorf(l, "state.put: %s", err.Error())
			}
			if target == nil {
				lua.Errorf(l, "state.put: writes are only allowed inside apply")
			}
			if err := target.put(table, key, value); err != nil {
				lua.Errorf(l, "state.put: %s", err.Error())
			}
			return 0
		}},
		{Name: "delete", Function: func(l *lua.State) int {
			table, key := lua.CheckString(l, 1), lua.CheckString(l, 2)
			if target == nil {
				lua.Errorf(l, "state.delete: writes are only allowed inside apply")
			}
			if err := target.del(table, key); err != nil {
				lua.Errorf(l, "state.delete: %s", err.Error())
			}
			return 0
		}},
		{Name: "keys", Function: func(l *lua.State) int {
			table := lua.CheckString(l, 1)
			var keys []string
			if target != nil {
				keys = target.keys(table)
			}
			l.CreateTable(len(keys), 0)
			for i, k := range keys {
				l.PushString(k)
				l.RawSetInt(-2, i+1)
			}
			return 1
		}},
	}, 0)
	l.SetGlobal("state")

	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "encode", Function: func(l *lua.State) int {
			v, err := toValue(l, 1, 0)
			if err != nil {
				lua.Errorf(l, "json.encode: %s", err.Error())
			}
			b, err := json.Marshal(v)
			if err != nil {
				lua.Errorf(l, "json.encode: %s", err.Error())
			}
			l.PushString(string(b))
			return 1
		}},
		{Name: "decode", Function: func(l *lua.State) int {
			text := lua.CheckString(l, 1)
			var v any
			if err := json.Unmarshal([]byte(text), &v); err != nil {
				lua.Errorf(l, "json.decode: %s", err.Error())
			}
			pushValue(l, v)
			return 1
		}},
	}, 0)
	l.SetGlobal("json")

	installParams(l, params)
}

// installParams exposes params as a read-only table
func installParams(l *lua.State, params map[string]string) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	l.NewTable() // proxy
	l.NewTable() // metatable
	l.CreateTable(0, len(names))
	for _, name := range names {
		l.PushString(params[name])
		l.SetField(-2, name)
	}
	l.SetField(-2, "__index")
	l.PushGoFunction(func(l *lua.State) int {
		lua.Errorf(l, "params is read-only")
		return 0
	})
	l.SetField(-2, "__newindex")
	l.SetMetaTable(-2)
	l.SetGlobal("params")
}

// valueText stores strings verbatim and everything else as JSON
func valueText(l *lua.State, index int) (string, error) {
	if l.TypeOf(index) == lua.TypeString {
		s, _ := l.ToString(index)
		return s, nil
	}
	v, err := toValue(l, index, 0)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// pushValue pushes a decoded JSON value. Object keys are inserted in sorted order so that
// table layout, and therefore pairs() order, is the same on every replica.
func pushValue(l *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case float64:
		l.PushNumber(val)
	case string:
		l.PushString(val)
	case []any:
		l.CreateTable(len(val), 0)
		for i, item := range val {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		l.CreateTable(0, len(val))
		for _, k := range keys {
			pushValue(l, val[k])
			l.SetField(-2, k)
		}
	default:
		l.PushString(fmt.Sprint(val))
	}
}

// toValue converts the Lua value at index to a JSON-encodable Go value
func toValue(l *lua.State, index int, depth int) (any, error) {
	if depth > maxValueDepth {
		return nil, fmt.Errorf("value nested deeper than %d", maxValueDepth)
	}

	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return nil, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return normalizeNumber(n)
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeTable:
		return tableValue(l, index, depth)
	default:
		return nil, fmt.Errorf("cannot encode %s", lua.TypeNameOf(l, index))
	}
}

func normalizeNumber(n float64) (any, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("cannot encode %v", n)
	}
	if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
		return int64(n), nil
	}
	return n, nil
}

func tableValue(l *lua.State, index int, depth int) (any, error) {
	index = l.AbsIndex(index)

	isArray := true
	maxIndex := 0
	count := 0
	l.PushNil()
	for l.Next(index) {
		count++
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if i, ok := l.ToInteger(-2); ok && i > 0 {
				if i > maxIndex {
					maxIndex = i
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if count == 0 {
		return map[string]any{}, nil
	}

	if isArray && maxIndex == count {
		out := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			v, err := toValue(l, -1, depth+1)
			l.Pop(1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	out := make(map[string]any, count)
	l.PushNil()
	for l.Next(index) {
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			key = fmt.Sprint(n)
		default:
			typeName := lua.TypeNameOf(l, -2)
			l.Pop(2)
			return nil, fmt.Errorf("cannot encode table key of type %s", typeName)
		}
		v, err := toValue(l, -1, depth+1)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		out[key] = v
		l.Pop(1)
	}
	return out, nil
}
