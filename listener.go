package cfdoh

import "fmt"

// Listener is implemented by anything that accepts incoming DoH requests.
// Start blocks until Stop is called or an unrecoverable error occurs.
type Listener interface {
	Start() error
	fmt.Stringer
}
