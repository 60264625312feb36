// Package alert stores and deduplicates operator-facing alerts raised by
// policy ui_alert actions, and manages their acknowledgement lifecycle.
package alert
