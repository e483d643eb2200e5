/*
Package api is the foreman's HTTP front door.

One listener carries three surfaces:

  - GET /ws upgrades to WebSocket and hands the connection to the
    message router; workers and clients speak the envelope protocol
    over it for the connection's lifetime.
  - GET /healthz, /readyz, /livez and /metrics expose the probe and
    Prometheus endpoints.
  - GET /api/v1/... is a read-only observability API: broker stats,
    job and task listings, per-task checkpoint progress, worker rows
    and the recent event window.

The API never mutates state; all writes flow through the WebSocket
protocol.
*/
package api
