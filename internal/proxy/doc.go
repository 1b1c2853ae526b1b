// Package proxy forwards selected request paths to backend services.
//
// Every proxy kind implements Handler: it knows the path it is mounted at and
// how to attach itself to a chi router. HTTPHandler relays plain requests
// through httputil.ReverseProxy; WebSocketHandler upgrades the client and
// relays frames to an upstream WebSocket connection.
package proxy
