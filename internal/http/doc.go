// Package http provides the realtime gateway for room notifications.
//
// The router exposes the following endpoints:
//   - GET /healthz: reports the state of every configured dependency as
//     {"status","checks":{name: "ok" | error}}. Responds 503 when any check fails.
//   - GET <prefix>/{roomID}: upgrades to a websocket subscribed to the room's
//     namespace. Every frame is {"type","payload"} JSON as broadcast by the
//     prompt and reap passes. Client messages are ignored.
package http
