// Package auth issues and validates the bearer tokens protecting the admin
// API. Tokens are JWTs carrying an operator subject and role; the server
// middleware consumes the validator, so the HTTP layer never sees signing
// material.
package auth
