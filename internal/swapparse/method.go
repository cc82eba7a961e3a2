package swapparse

import "fmt"

// Method is the closed set of router entry points the parser understands.
type Method int

const (
	MethodUnknown Method = iota
	MethodSwapExactTokensForTokens
	MethodSwapTokensForExactTokens
	MethodExactInputSingle
	MethodExactOutputSingle
	MethodExactInput
	MethodExactOutput
	MethodMulticall
)

var methodNames = map[Method]string{
	MethodSwapExactTokensForTokens: "swapExactTokensForTokens",
	MethodSwapTokensForExactTokens: "swapTokensForExactTokens",
	MethodExactInputSingle:         "exactInputSingle",
	MethodExactOutputSingle:        "exactOutputSingle",
	MethodExactInput:               "exactInput",
	MethodExactOutput:              "exactOutput",
	MethodMulticall:                "multicall",
}

var methodsByName = func() map[string]Method {
	out := make(map[string]Method, len(methodNames))
	for m, name := range methodNames {
		out[name] = m
	}
	return out
}()

// MethodFromName maps an ABI function name (without overload suffix) to a
// Method. Names outside the supported set report false.
func MethodFromName(name string) (Method, bool) {
	m, ok := methodsByName[name]
	return m, ok
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	parsed, ok := MethodFromName(string(b))
	if !ok {
		return fmt.Errorf("unknown router method %q", b)
	}
	*m = parsed
	return nil
}

// IsSwap reports whether m moves tokens by itself (multicall does not).
func (m Method) IsSwap() bool {
	return m >= MethodSwapExactTokensForTokens && m <= MethodExactOutput
}

// ExactIn reports whether the input amount is fixed by calldata.
func (m Method) ExactIn() bool {
	switch m {
	case MethodSwapExactTokensForTokens, MethodExactInputSingle, MethodExactInput:
		return true
	default:
		return false
	}
}

type Version string

const (
	VersionV2 Version = "v2"
	VersionV3 Version = "v3"
)

func (m Method) Version() Version {
	switch m {
	case MethodSwapExactTokensForTokens, MethodSwapTokensForExactTokens:
		return VersionV2
	default:
		return VersionV3
	}
}
