package clients

import (
	"context"
	"net/http"

	"github.com/ledgerlane/fanout/handlers"
)

// NewNotifyClient returns a notification collaborator client.
func NewNotifyClient(baseURL, internalSecret string) *NotifyClient {
	return &NotifyClient{
		baseURL:        baseURL,
		internalSecret: internalSecret,
		httpClient:     &http.Client{Timeout: defaultTimeout},
	}
}

// NotifyClient calls the notification module's emission operation.
type NotifyClient struct {
	baseURL        string
	internalSecret string
	httpClient     *http.Client
}

var _ handlers.Notifier = (*NotifyClient)(nil)

type notifyRequest struct {
	TenantID   string `json:"tenant_id"`
	Target     string `json:"target"`
	Type       string `json:"type"`
	Category   string `json:"category"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

type notifyResponse struct {
	DeliveryResult string `json:"delivery_result"`
}

func (c *NotifyClient) Send(ctx context.Context, n handlers.Notification) (string, error) {
	var nr notifyResponse
	err := postJSON(ctx, c.httpClient, c.baseURL+"/v1/notifications",
		c.internalSecret, notifyRequest{
			TenantID:   n.TenantID,
			Target:     n.Target,
			Type:       n.Type,
			Category:   n.Category,
			Title:      n.Title,
			Message:    n.Message,
			EntityType: n.EntityType,
			EntityID:   n.EntityID,
		}, &nr)
	if err != nil {
		return "", err
	}
	return nr.DeliveryResult, nil
}
