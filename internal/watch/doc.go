// Package watch rebuilds the project when watched files change and announces
// every successful rebuild on a build-done channel.
//
// Events are debounced: a burst of writes triggers one build once the
// filesystem has been quiet for the debounce window. The loop stops when the
// shutdown signal fires.
package watch
