//go:build !unix

package repository

// Advisory file locking is unix-only; other platforms rely on the in-process
// mutex alone.
func lockFile(path string) (func(), error) {
	return func() {}, nil
}
