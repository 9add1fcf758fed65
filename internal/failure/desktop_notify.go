package failure

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/arkaledge/orchestrator/internal/kanban"
)

// DesktopNotifier pops a Windows toast when a task is permanently blocked,
// matching Handler.Notify's signature so it can be assigned directly.
// Grounded on ODSapper-CLIAIMONITOR's internal/notifications/toast.go;
// toast notifications are a Windows-only API, so non-Windows builds
// silently no-op rather than erroring, exactly like the donor's own
// IsSupported guard.
type DesktopNotifier struct {
	AppID string
}

// Notify implements the Handler.Notify hook.
func (d DesktopNotifier) Notify(task kanban.Task) {
	if runtime.GOOS != "windows" {
		return
	}
	appID := d.AppID
	if appID == "" {
		appID = "Arkaledge"
	}
	notification := toast.Notification{
		AppID:   appID,
		Title:   "Task permanently blocked",
		Message: fmt.Sprintf("%s: %s", task.ID, task.BlockedReason),
		Audio:   toast.Default,
	}
	_ = notification.Push()
}
