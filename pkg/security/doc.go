// Package security provides validation, sanitization, and limits for the workbench.
//
// This package includes:
//   - Input validation for queue names, job names and payload sizes
//   - Error message sanitization before messages reach HTTP clients
//   - Clamping functions for attempts and page sizes
//
// Most users should import the root package github.com/jdziat/queue-workbench
// which applies these checks to every mutation.
package security
