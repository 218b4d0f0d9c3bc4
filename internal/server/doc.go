// Package server hosts the Fiber HTTP service that exposes the model cache to
// rendering front ends: /assets/* serves cached model bytes, and /-/ paths carry
// diagnostics registered by the routes subpackage. Dependencies arrive through
// AppOptions so tests can inject fakes; keep exports narrow.
package server
