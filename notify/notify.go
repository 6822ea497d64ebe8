// Package notify dispatches job lifecycle events to the channels a
// job opted into. It generalizes integrations/notifications.py's
// Discord/WhatsApp dispatch, which keyed behavior off a job's
// notifications list and per-channel env secrets, into one Hook
// interface whose WebhookSender dispatches on the channel name.
//
// Notification failures never affect job status: callers invoke
// Notify and log the error, exactly as the scheduler does.
package notify

import (
	"context"

	"github.com/nexuscluster/nexus/job"
)

// Action identifies why a notification fired.
type Action string

const (
	ActionStarted      Action = "started"
	ActionCompleted    Action = "completed"
	ActionFailed       Action = "failed"
	ActionKilled       Action = "killed"
	ActionTrackerFound Action = "tracker_found"
)

// Hook is the single entry point the scheduler calls on every job
// transition. messageID, when non-empty, is a channel-specific handle
// (e.g. a Discord message id) the caller may persist for later edits
// into the job's notification_messages map.
type Hook interface {
	Notify(ctx context.Context, j *job.Job, action Action) (messageID string, err error)
}
