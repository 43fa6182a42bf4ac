// Package testutil holds fluent builders for events and sessions shared by
// the package tests. It is not meant for production code.
package testutil
