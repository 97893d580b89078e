/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package inflightlimit limits the number of requests served concurrently.
// It is shared by the HTTP middleware and the gRPC interceptor of the dispatcher daemon.
// A request that finds no free slot may wait in a bounded backlog for a limited time,
// otherwise it is rejected.
package inflightlimit
