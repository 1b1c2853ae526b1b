// Package serve runs the development server: it serves the dist directory
// under the public URL, pushes reload notifications to connected browsers
// after every rebuild, and forwards configured paths to backend services.
//
// System ties the watch loop and the network server together and tears both
// down when the shutdown signal fires.
package serve
