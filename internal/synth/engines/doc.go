// Package engines provides the remote speech providers narrator can
// synthesize with.
package engines
