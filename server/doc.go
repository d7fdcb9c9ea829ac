// Package server exposes the admin API over HTTP: health, satellite
// diagnostics, satellite reset, and build version. The server is Gin over
// h2c, so the same port can later carry HTTP/2 traffic without TLS.
//
// Built-in middleware (server/middleware): recovery, request id, CORS,
// request logging, and bearer auth backed by the auth package.
package server
