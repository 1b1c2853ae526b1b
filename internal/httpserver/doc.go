// Package httpserver wraps http.Server for the dev server: address
// validation, explicit binding, plaintext or TLS serving, and the two
// shutdown modes. Plaintext servers drain in-flight requests gracefully;
// TLS servers use a zero-length grace period and then force-close whatever
// is still open.
package httpserver
