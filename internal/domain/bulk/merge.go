package bulk

import (
	"encoding/json"

	"github.com/herald-notify/herald/internal/domain/model"
)

// DispatchRequest is the fully-merged per-recipient send request handed to the
// downstream dispatch service. It is ephemeral and never persisted.
type DispatchRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id"`
	Event       string          `json:"event,omitempty"`
	Brand       string          `json:"brand,omitempty"`
	Locale      string          `json:"locale,omitempty"`
	To          map[string]any  `json:"to,omitempty"`
	Data        map[string]any  `json:"data,omitempty"`
	Override    map[string]any  `json:"override,omitempty"`
	DryRunKey   *string         `json:"dry_run_key,omitempty"`
	Preferences json.RawMessage `json:"preferences,omitempty"`
}

// BuildDispatchInput groups the inputs for BuildDispatchRequest.
type BuildDispatchInput struct {
	Job       *model.BulkJob
	Template  model.TemplateMessage
	Recipient model.IngestRecipient
	UserID    string
}

// BuildDispatchRequest merges the job template with one recipient's override.
// The recipient's to/profile fully replaces the template's recipient target;
// the data maps are shallow-merged with recipient keys winning over template
// keys of the same name.
func BuildDispatchRequest(in BuildDispatchInput) DispatchRequest {
	req := DispatchRequest{
		Event:    in.Template.Event,
		Brand:    in.Template.Brand,
		Locale:   in.Template.Locale,
		Override: in.Template.Override,
		UserID:   in.UserID,
	}
	if in.Job != nil {
		req.WorkspaceID = in.Job.WorkspaceID
		req.JobID = in.Job.ID
		req.DryRunKey = in.Job.DryRunKey
	}

	req.To = recipientTarget(in.Template, in.Recipient)
	req.Data = mergeData(in.Template.Data, in.Recipient.Data)
	if len(in.Recipient.Prefs) > 0 {
		req.Preferences = in.Recipient.Prefs
	}

	return req
}

// recipientTarget picks the recipient's own target when present, falling back
// to the template's. A recipient target always wins wholesale; targets are
// never merged field by field.
func recipientTarget(tpl model.TemplateMessage, rec model.IngestRecipient) map[string]any {
	switch {
	case len(rec.To) > 0:
		return rec.To
	case len(rec.Profile) > 0:
		return rec.Profile
	default:
		return tpl.To
	}
}

func mergeData(template, recipient map[string]any) map[string]any {
	if len(template) == 0 && len(recipient) == 0 {
		return nil
	}
	merged := make(map[string]any, len(template)+len(recipient))
	for k, v := range template {
		merged[k] = v
	}
	for k, v := range recipient {
		merged[k] = v
	}
	return merged
}
