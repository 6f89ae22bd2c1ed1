// Package nexthop implements the next-hop selection engine for an HTTP
// forward/reverse proxy: given a request, it picks which upstream parent
// to try, with what scheme and port, and drives the retry/failover state
// machine across a multi-ring host topology until a parent answers, the
// retry budget is spent, or the caller is told to go direct to origin.
//
// The package never opens a socket, parses HTTP, or schedules a timer.
// It reads host health through the HealthView interface and reports
// outcomes back through the same interface; everything else (transport,
// configuration reload, logging, metrics) is an injected collaborator.
package nexthop
