package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nexuscluster/nexus/apperr"
	"github.com/nexuscluster/nexus/job"
)

// requestTimeout bounds every outbound notification call.
const requestTimeout = 10 * time.Second

// discordMessage mirrors notifications.py's NotificationMessage
// pydantic model: content plus optional rich embeds.
type discordMessage struct {
	Content  string           `json:"content"`
	Embeds   []discordEmbed   `json:"embeds,omitempty"`
	Username string           `json:"username,omitempty"`
}

type discordEmbed struct {
	Fields []discordField `json:"fields"`
	Color  int            `json:"color"`
}

type discordField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var emojiByAction = map[Action]string{
	ActionStarted:   ":rocket:",
	ActionCompleted: ":checkered_flag:",
	ActionFailed:    ":interrobang:",
	ActionKilled:    ":octagonal_sign:",
}

var colorByAction = map[Action]int{
	ActionStarted:   0x3498DB,
	ActionCompleted: 0x2ECC71,
	ActionFailed:    0xE74C3C,
	ActionKilled:    0xF39C12,
}

// WebhookSender dispatches notifications over plain HTTP,
// generalizing integrations/notifications.py's per-channel aiohttp
// calls into one client shared by every channel. Discord POSTs JSON to
// the job's DISCORD_WEBHOOK_URL; WhatsApp sends a GET to TextMeBot's
// send API using WHATSAPP_TO_NUMBER/TEXTMEBOT_API_KEY; phone POSTs a
// form to Twilio's REST API using the four TWILIO_*/PHONE_TO_NUMBER
// env vars.
type WebhookSender struct {
	Client *http.Client
	Log    *slog.Logger
}

func (s *WebhookSender) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: requestTimeout}
}

func (s *WebhookSender) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *WebhookSender) Notify(ctx context.Context, j *job.Job, action Action) (string, error) {
	var messageID string
	for _, channel := range j.Notifications {
		var (
			id  string
			err error
		)
		switch channel {
		case "discord":
			id, err = s.sendDiscord(ctx, j, action)
		case "whatsapp":
			err = s.sendWhatsApp(ctx, j, action)
		case "phone":
			err = s.sendPhone(ctx, j, action)
		default:
			continue
		}
		if err != nil {
			s.logger().Warn("notification channel failed", "job", j.ID, "channel", channel, "action", action, "err", err)
			continue
		}
		if id != "" {
			messageID = id
		}
	}
	return messageID, nil
}

func (s *WebhookSender) sendDiscord(ctx context.Context, j *job.Job, action Action) (string, error) {
	webhookURL := j.Env["DISCORD_WEBHOOK_URL"]
	userID := j.Env["DISCORD_USER_ID"]
	if webhookURL == "" || userID == "" {
		return "", apperr.New(apperr.Notification, "missing discord secrets in job environment")
	}

	gpuIdxs := joinInts(j.GPUIdxsAssigned)
	title := fmt.Sprintf("%s **Job %s %s on GPU %s - (%s)** - <@%s>",
		emojiByAction[action], j.ID, action, gpuIdxs, j.Node, userID)
	fields := []discordField{
		{Name: "Command", Value: j.Command},
		{Name: "W&B", Value: wandbFieldValue(j, action)},
		{Name: "Git", Value: fmt.Sprintf("%s - Branch: %s", j.GitRepoURL, j.GitBranch)},
		{Name: "User", Value: j.User},
	}
	if j.ErrorMessage != "" && (action == ActionCompleted || action == ActionFailed) {
		fields = append([]discordField{{Name: "Error Message", Value: j.ErrorMessage}}, fields...)
	}
	msg := discordMessage{
		Content: title,
		Embeds: []discordEmbed{{
			Fields: fields,
			Color:  colorByAction[action],
		}},
		Username: "Nexus",
	}

	params := url.Values{}
	if action == ActionStarted {
		params.Set("wait", "true")
	}
	reqURL := webhookURL
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	resp, err := s.postJSON(ctx, reqURL, msg)
	if err != nil {
		return "", apperr.Wrap(apperr.Notification, "discord notification request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return "", apperr.New(apperr.Notification, fmt.Sprintf("discord webhook returned status %d", resp.StatusCode))
	}
	if action != ActionStarted {
		return "", nil
	}
	var body struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return body.ID, nil
}

func wandbFieldValue(j *job.Job, action Action) string {
	if action == ActionStarted && j.WandbURL == "" {
		return "Pending ..."
	}
	if j.WandbURL == "" {
		return "Not Found"
	}
	return j.WandbURL
}

func (s *WebhookSender) sendWhatsApp(ctx context.Context, j *job.Job, action Action) error {
	phone := j.Env["WHATSAPP_TO_NUMBER"]
	apiKey := j.Env["TEXTMEBOT_API_KEY"]
	if phone == "" || apiKey == "" {
		return apperr.New(apperr.Notification, "missing whatsapp secrets in job environment")
	}
	text := messagingText(j, action)
	reqURL := fmt.Sprintf("https://api.textmebot.com/send.php?recipient=%s&apikey=%s&text=%s",
		url.QueryEscape(strings.TrimPrefix(phone, "+")), url.QueryEscape(apiKey), url.QueryEscape(text))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return apperr.Wrap(apperr.Notification, "building whatsapp request failed", err)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Notification, "whatsapp message failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.Notification, fmt.Sprintf("whatsapp send returned status %d", resp.StatusCode))
	}
	return nil
}

func (s *WebhookSender) sendPhone(ctx context.Context, j *job.Job, action Action) error {
	sid := j.Env["TWILIO_ACCOUNT_SID"]
	token := j.Env["TWILIO_AUTH_TOKEN"]
	from := j.Env["TWILIO_FROM_NUMBER"]
	to := j.Env["PHONE_TO_NUMBER"]
	if sid == "" || token == "" || from == "" || to == "" {
		return apperr.New(apperr.Notification, "missing twilio secrets in job environment")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", messagingText(j, action))

	reqURL := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", sid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperr.Wrap(apperr.Notification, "building twilio request failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(sid, token)

	resp, err := s.client().Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Notification, "twilio message failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return apperr.New(apperr.Notification, fmt.Sprintf("twilio send returned status %d", resp.StatusCode))
	}
	return nil
}

func messagingText(j *job.Job, action Action) string {
	gpuIdxs := joinInts(j.GPUIdxsAssigned)
	lines := []string{
		fmt.Sprintf("Nexus Job %s %s on GPU %s - (%s)", j.ID, action, gpuIdxs, j.Node),
		fmt.Sprintf("Command: %s", j.Command),
		fmt.Sprintf("Git: %s - Branch: %s", j.GitRepoURL, j.GitBranch),
		fmt.Sprintf("User: %s", j.User),
	}
	if j.ErrorMessage != "" && (action == ActionCompleted || action == ActionFailed) {
		lines = append(lines, fmt.Sprintf("Error: %s", j.ErrorMessage))
	}
	return strings.Join(lines, "\n")
}

func (s *WebhookSender) postJSON(ctx context.Context, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client().Do(req)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ", ")
}
