// Package httpserver is the admin HTTP API: channel catalog CRUD, policy
// expression management, system publishes, and message inspection.
package httpserver
