// Package util holds small helpers shared by the provider and the storage
// backends.
package util
