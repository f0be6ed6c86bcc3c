// Package scan manages immediate and scheduled scans.
//
// At most one immediate scan is outstanding device-wide. Start hands back
// a Ticket; the outcome is reported once per ticket through the
// OnComplete callback, whether the scan finished, was cancelled by the
// caller, or was aborted by the host (teardown, suspend, disconnect).
//
// Scheduled (periodic) scanning is a separate firmware mode. Starting an
// immediate scan stops it, and starting it aborts a live immediate scan.
package scan
