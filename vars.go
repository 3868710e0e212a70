package cfdoh

import (
	"expvar"
	"fmt"
)

// Get an *expvar.Int with the given path, published under the cfdohproxy
// namespace so it doesn't collide with anything else registered in the
// process-wide expvar map.
func getVarInt(base, name string) *expvar.Int {
	fullname := fmt.Sprintf("cfdohproxy.%s.%s", base, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// Get an *expvar.Map with the given path.
func getVarMap(base, name string) *expvar.Map {
	fullname := fmt.Sprintf("cfdohproxy.%s.%s", base, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}
