// Package context holds the state shared by the wgfence commands: the
// filesystem, database, configuration and host integrations a command runs
// against, and the factory that wires them into a service.Service.
//
// It is separate from the app package so that cli can import it.
package context
