//go:build !tinygo

package machine

import "runtime/debug"

func captureStack() []byte {
	return debug.Stack()
}
