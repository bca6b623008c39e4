// relax_stub.go — Fallback no-op Relax
//
// Used on architectures without a dedicated spin hint, and on builds with
// cgo disabled or the noasm tag set. Spinning continues at full speed.

//go:build !(amd64 || arm64) || !cgo || noasm

package spin

// Relax is a no-op on this platform.
//
//go:nosplit
func Relax() {}
