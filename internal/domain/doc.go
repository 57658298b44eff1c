// Package domain defines the core data models and interfaces shared across
// the messaging server. It contains plain types (wire/state) and contracts
// (interfaces) only; behavior lives in the implementing packages.
package domain
