// Package server exposes a discovery registry over HTTP.
//
// Routes:
//
//	GET  /healthz                      liveness, registry state and build info
//	GET  /api/devices                  published devices (?class=, ?expired=)
//	GET  /api/devices/{key}            one device summary
//	GET  /api/devices/{key}/detail     the stored detail text
//	POST /api/discovery/start          start the discovery session
//	POST /api/discovery/stop           stop it
//	POST /api/discovery/restart        stop, then start unless ?on=false
//	GET  /api/discovery/settings       current scan settings
//	PUT  /api/discovery/settings       replace scan settings
//	GET  /api/events                   WebSocket event stream
//
// Device keys contain "@@" and may contain colons, so clients should
// path-escape them.
//
// The event stream sends a "snapshot" frame listing every published device,
// then one JSON frame per registry event (state_changed, published,
// unpublished, error). Published frames carry the device summary when it is
// still present. A slow client misses events rather than stall the
// registry; a fresh snapshot can be had by reconnecting.
//
// TLS is enabled when both a certificate and a key are configured.
package server
