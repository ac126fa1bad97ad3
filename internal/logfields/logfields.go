package logfields

import "log/slog"

// Canonical log field names shared by every package.
const (
	KeyRepo       = "repository"
	KeyBranch     = "branch"
	KeyMethod     = "source_method"
	KeyStage      = "stage"
	KeyWorkspace  = "workspace"
	KeyProjectID  = "project_id"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyError      = "error"
)

func Repository(r string) slog.Attr   { return slog.String(KeyRepo, r) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Workspace(p string) slog.Attr    { return slog.String(KeyWorkspace, p) }
func ProjectID(id int) slog.Attr      { return slog.Int(KeyProjectID, id) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
