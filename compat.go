// compat.go - small aliasing layer, same spirit as the teacher's
// compatibility.go: short names for callers used to dialing a session
// rather than opening a store.

package docstore

// DB is an alias of Store. Existing code written against a "database
// handle" naming convention compiles against either name.
type DB = Store

// Dial is a thin wrapper around Open that reads more naturally at a
// call site migrating from a dial-style API.
func Dial(path string) (*Store, error) {
	return Open(path, Options{})
}
