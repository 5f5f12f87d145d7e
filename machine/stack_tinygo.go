//go:build tinygo

package machine

func captureStack() []byte {
	return nil
}
