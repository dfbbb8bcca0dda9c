package casa

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Literal renders v as a CASA (Python) literal. Supported values are
// strings, bools, ints, floats and slices of those.
func Literal(v interface{}) string {
	switch x := v.(type) {
	case string:
		return quote(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case []string:
		return list(len(x), func(i int) string { return quote(x[i]) })
	case []int:
		return list(len(x), func(i int) string { return strconv.Itoa(x[i]) })
	case []float64:
		return list(len(x), func(i int) string { return formatFloat(x[i]) })
	default:
		panic(fmt.Sprintf("casa: no literal form for %T", v))
	}
}

func list(n int, item func(int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = item(i)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// formatFloat prints the shortest representation that round-trips and,
// like Python, always marks the value as a float.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "float('nan')"
	case math.IsInf(f, 1):
		return "float('inf')"
	case math.IsInf(f, -1):
		return "-float('inf')"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}
