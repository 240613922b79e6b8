// Package queue holds classified events between the stream and the drain cycle.
package queue
