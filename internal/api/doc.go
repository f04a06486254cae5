// Package api implements the HTTP handlers for the asset metadata service.
// Each handler is a direct translation from request to one or two calls
// against the document store and the object store; there is no intermediate
// business-logic layer.
package api
