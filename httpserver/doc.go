/*
Package httpserver runs the registry node's HTTP API.

The server mounts the api handlers (relayer, registry, admin) on one chi
router, logs every request through go-utils' httplogger, tags requests with
an X-Request-ID and serves Prometheus metrics on a separate address.

# Health endpoints

  - GET /livez    always 200 while the process serves requests
  - GET /readyz   200 unless the server is draining
  - GET /drain    marks the server not ready so load balancers stop routing to it
  - GET /undrain  marks the server ready again

# Shutdown

Shutdown stops the API server first, waiting up to GracefulShutdownDuration
for in-flight requests, and then the metrics server.
*/
package httpserver
