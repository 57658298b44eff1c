// Package app wires application dependencies for the server.
//
// It builds the concrete stores, protocol engines and high-level services
// from config.Config, exposing them via the App struct for the command
// layer to run.
package app
