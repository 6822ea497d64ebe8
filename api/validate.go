package api

// createJobRequest is the POST /v1/jobs body.
type createJobRequest struct {
	Command         string            `json:"command"`
	ArtifactID      string            `json:"artifact_id"`
	Priority        int               `json:"priority"`
	NumGPUs         int               `json:"num_gpus"`
	GPUIdxs         []int             `json:"gpu_idxs,omitempty"`
	IgnoreBlacklist bool              `json:"ignore_blacklist"`
	Env             map[string]string `json:"env,omitempty"`
	Jobrc           string            `json:"jobrc,omitempty"`
	Integrations    []string          `json:"integrations,omitempty"`
	Notifications   []string          `json:"notifications,omitempty"`
	SearchWandb     bool              `json:"search_wandb"`
	User            string            `json:"user,omitempty"`
	GitRepoURL      string            `json:"git_repo_url,omitempty"`
	GitBranch       string            `json:"git_branch,omitempty"`
}

// requiredEnvByChannel is the notification channel required-env
// matrix from spec §6.
var requiredEnvByChannel = map[string][]string{
	"discord":  {"DISCORD_USER_ID", "DISCORD_WEBHOOK_URL"},
	"whatsapp": {"WHATSAPP_TO_NUMBER", "TEXTMEBOT_API_KEY"},
	"phone":    {"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "PHONE_TO_NUMBER"},
}

// validateJobRequest checks the required-env matrix from spec §6 and
// returns per-field errors suitable for a 422 response.
func validateJobRequest(req createJobRequest) map[string]string {
	fields := map[string]string{}

	if req.Command == "" {
		fields["command"] = "command is required"
	}
	if req.ArtifactID == "" {
		fields["artifact_id"] = "artifact_id is required"
	}
	switch {
	case req.NumGPUs < 0:
		fields["num_gpus"] = "num_gpus must not be negative"
	case req.NumGPUs == 0 && len(req.GPUIdxs) == 0:
		fields["num_gpus"] = "num_gpus must be a positive integer when gpu_idxs is not set"
	}

	if req.SearchWandb {
		for _, key := range []string{"WANDB_API_KEY", "WANDB_ENTITY"} {
			if req.Env[key] == "" {
				fields["env."+key] = "required when search_wandb is true"
			}
		}
	}

	for _, channel := range req.Notifications {
		keys, ok := requiredEnvByChannel[channel]
		if !ok {
			fields["notifications"] = "unknown notification channel: " + channel
			continue
		}
		for _, key := range keys {
			if req.Env[key] == "" {
				fields["env."+key] = "required for the " + channel + " notification channel"
			}
		}
	}

	return fields
}
