// Package directory groups the AccountDirectory implementations shipped with
// authcore: memory for tests and single-node use, postgres for production.
package directory
