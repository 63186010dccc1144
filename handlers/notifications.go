package handlers

import (
	"context"
	"strings"

	"github.com/luno/fate"
	"github.com/luno/jettison/errors"
	"github.com/tidwall/gjson"

	"github.com/ledgerlane/fanout"
)

// Notification is a request to the notification collaborator.
type Notification struct {
	TenantID   string
	Target     string
	Type       string
	Category   string
	Title      string
	Message    string
	EntityType string
	EntityID   string
}

// Notifier is the notification collaborator. Delivery mechanics beyond this
// call contract are out of scope.
type Notifier interface {
	// Send emits the notification and returns the collaborator's delivery
	// result.
	Send(ctx context.Context, n Notification) (string, error)
}

// NewNotifications returns the notifications handler set backed by the
// notifier collaborator.
func NewNotifications(notifier Notifier) *Notifications {
	return &Notifications{notifier: notifier}
}

// Notifications translates any module event into a notification request.
// It is registered as the notifications module's default handler since its
// subscriptions are typically wildcards over whole namespaces.
type Notifications struct {
	notifier Notifier
}

// Register installs the notifications handler into the registry.
func (h *Notifications) Register(r *Registry) {
	r.RegisterDefault("notifications", h.Forward)
}

// Forward builds a notification from the event and forwards it. Any topic
// can arrive here via wildcard subscriptions, so payload fields are read
// best effort by name rather than through a typed variant.
func (h *Notifications) Forward(ctx context.Context, _ fate.Fate, ev *fanout.Event) (fanout.HandlerResult, error) {
	namespace, _, _ := strings.Cut(ev.Type, ".")

	n := Notification{
		TenantID:   ev.TenantID,
		Target:     firstString(ev.Payload, "recipient", "assignee", "user_id"),
		Type:       "module_event",
		Category:   namespace,
		Title:      firstString(ev.Payload, "title", "subject"),
		Message:    firstString(ev.Payload, "message", "description"),
		EntityType: namespace,
		EntityID:   ev.EntityID,
	}
	if n.Target == "" {
		n.Target = "tenant:" + ev.TenantID
	}
	if n.Title == "" {
		n.Title = ev.Type
	}
	if n.Message == "" {
		n.Message = ev.Type + " " + ev.EntityID
	}

	result, err := h.notifier.Send(ctx, n)
	if err != nil {
		return fanout.HandlerResult{}, errors.Wrap(err, "send notification error")
	}

	return fanout.HandlerResult{
		Action:    fanout.ActionApplied,
		Reference: ev.Type + "/" + ev.ID,
		Detail:    result,
	}, nil
}

// firstString returns the first of the named payload fields that holds a
// non-empty string.
func firstString(payload []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(payload, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
