// Package tlsutil provides the server identity for the HTTPS transport.
//
// An identity comes either from an explicit certificate and key file pair or
// from a self-signed certificate cached under the user cache directory
// (<cache>/mcpz/tls/self-signed.crt and self-signed.key). A cached certificate
// is reused while it parses, matches its key and is inside its validity window.
package tlsutil
