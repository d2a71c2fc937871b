package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCycleID    = "cycle_id"
	KeyModID      = "mod_id"
	KeyVersion    = "version"
	KeyPhase      = "phase"
	KeyOutcome    = "outcome"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyWorker     = "worker"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func CycleID(id string) slog.Attr      { return slog.String(KeyCycleID, id) }
func ModID(id string) slog.Attr        { return slog.String(KeyModID, id) }
func Version(v string) slog.Attr       { return slog.String(KeyVersion, v) }
func Phase(p string) slog.Attr         { return slog.String(KeyPhase, p) }
func Outcome(o string) slog.Attr       { return slog.String(KeyOutcome, o) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Worker(w int) slog.Attr           { return slog.Int(KeyWorker, w) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
