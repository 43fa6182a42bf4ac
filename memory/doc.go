// Package memory provides MemoryStore implementations. Turn executors record
// completed turns here so later turns and tools can recall them.
package memory
