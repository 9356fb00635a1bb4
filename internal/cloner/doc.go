// Package cloner defines the core types, interfaces and errors shared by the
// acquisition, asset, materialization and progress subsystems of the site
// cloner. Adapters (fetchers, stores, publishers) live in their own packages
// and depend on this one, never the other way around.
package cloner
