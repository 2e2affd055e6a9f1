// Package alert delivers operator notifications about server crashes and
// restarts.
package alert

// Notifier receives lifecycle alerts. Implementations must not block the
// caller; delivery failures are logged, never returned.
type Notifier interface {
	NotifyCrash(serverName string, serverID int64, reason string)
	NotifyRestart(serverName string, serverID int64, reason string)
}

// Nop discards every alert.
type Nop struct{}

func (Nop) NotifyCrash(string, int64, string)   {}
func (Nop) NotifyRestart(string, int64, string) {}
