// Package correlation tracks asynchronous hardware requests.
//
// Scan and calibration commands are fire-and-forget over MQTT; the device
// reports its result later on its result topic. The Tracker pairs each
// outgoing command with a correlation id, enforces at most one outstanding
// request per (device, request_type), and guarantees exactly one terminal
// outcome per request: either the device's result completes it or the
// background sweep times it out, never both.
package correlation
