//go:build !linux || !(amd64 || arm64)

package backend

func newKernelSem() (kernelSem, error) { return nil, ErrUnsupported }

// PostKernelSem always fails with ErrUnsupported.
func PostKernelSem(int) error { return ErrUnsupported }
