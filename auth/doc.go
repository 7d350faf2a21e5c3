// Package auth implements the authentication primitives used by the API:
// the password policy, bcrypt credential hashing, signed session tokens,
// double-submit CSRF tokens, and the session manager that ties token
// verification and reissue together.
//
// Every type in this package is immutable after construction and safe for
// concurrent use.
package auth
