package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	"warreg/entity"
	"warreg/internal/config"
	"warreg/lib/sl"
)

// Client talks to the email/CRM automation provider. Calls are
// fire-and-forget from the registration's point of view: the dispatcher
// owns retries and failures never surface on the primary result.
type Client struct {
	hc         *http.Client
	baseURL    string
	apiKey     string
	listID     string
	campaignID string
	log        *slog.Logger
}

func NewClient(conf *config.Config, logger *slog.Logger) *Client {
	if !conf.Crm.Enabled {
		return nil
	}
	return &Client{
		hc:         &http.Client{Timeout: 10 * time.Second},
		baseURL:    conf.Crm.BaseUrl,
		apiKey:     conf.Crm.ApiKey,
		listID:     conf.Crm.ListId,
		campaignID: conf.Crm.CampaignId,
		log:        logger.With(sl.Module("crm")),
	}
}

// request sends an authenticated POST to the provider API.
func (c *Client) request(ctx context.Context, resource, action string, payload interface{}) ([]byte, error) {
	log := c.log.With(
		slog.String("resource", resource),
		slog.String("action", action),
	)

	var err error
	status := "ERROR"
	t1 := time.Now()
	defer func() {
		t2 := time.Now()
		log.Debug("crm api request completed",
			slog.String("duration", fmt.Sprintf("%.3fms", float64(t2.Sub(t1))/float64(time.Millisecond))),
			slog.String("status", status))
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal payload", sl.Err(err))
		return nil, err
	}

	q := url.Values{}
	q.Set("format", "json")
	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, resource, action, q.Encode())
	log = log.With(slog.String("endpoint", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		log.Error("create request", sl.Err(err))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Error("request failed", sl.Err(err))
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	status = resp.Status
	if resp.StatusCode >= 300 {
		log.Error("crm api returned error",
			slog.String("status", resp.Status),
			slog.String("body", string(body)))
		return nil, fmt.Errorf("crm %s: %s", resp.Status, body)
	}

	return body, nil
}

// upsertContact subscribes the customer to the configured list, tagged
// with the registered product. Existing contacts are updated in place.
func (c *Client) upsertContact(ctx context.Context, reg *entity.Registration) (string, error) {
	payload := map[string]interface{}{
		"list_id": c.listID,
		"contact": map[string]interface{}{
			"email":      reg.Email,
			"first_name": reg.FirstName,
			"last_name":  reg.LastName,
			"phone":      reg.Phone,
			"country":    reg.CountryCode(),
		},
		"tags": []string{"warranty-registered", reg.ProductId},
	}
	res, err := c.request(ctx, "contacts", "upsert", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	if err = json.Unmarshal(res, &resp); err != nil {
		c.log.Error("parse contact response", sl.Err(err))
		return "", err
	}
	if resp.Contact.ID == "" {
		return "", fmt.Errorf("no contact id returned")
	}
	return resp.Contact.ID, nil
}

// announce pushes the registration event to the contact. The campaign
// trigger endpoint is preferred; when the provider rejects it (plan
// limits, missing campaign) the direct transactional message is the
// fallback.
func (c *Client) announce(ctx context.Context, contactID string, reg *entity.Registration, number *entity.WarrantyNumber) error {
	log := c.log.With(slog.String("contact_id", contactID), sl.Code(reg.Code))

	if c.campaignID != "" {
		payload := map[string]interface{}{
			"campaign_id": c.campaignID,
			"contact_id":  contactID,
			"event":       "warranty_registered",
			"properties": map[string]interface{}{
				"product":      reg.Product,
				"code":         number.Code,
				"warranty_end": reg.WarrantyEndDate.Format("2006-01-02"),
			},
		}
		_, err := c.request(ctx, "campaigns", "trigger", payload)
		if err == nil {
			return nil
		}
		log.Warn("campaign trigger failed, falling back to direct message", sl.Err(err))
	}

	payload := map[string]interface{}{
		"contact_id": contactID,
		"template":   "warranty-confirmation",
		"variables": map[string]interface{}{
			"first_name":   reg.FirstName,
			"product":      reg.Product,
			"code":         number.Code,
			"warranty_end": reg.WarrantyEndDate.Format("2006-01-02"),
		},
	}
	if _, err := c.request(ctx, "messages", "send", payload); err != nil {
		return fmt.Errorf("direct message: %w", err)
	}
	return nil
}

// SyncRegistration mirrors one registration into the CRM.
func (c *Client) SyncRegistration(ctx context.Context, reg *entity.Registration, number *entity.WarrantyNumber) error {
	log := c.log.With(slog.String("email", reg.Email), sl.Code(reg.Code))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic recovered in SyncRegistration", slog.Any("panic", r))
		}
	}()

	contactID, err := c.upsertContact(ctx, reg)
	if err != nil {
		return fmt.Errorf("contact: %w", err)
	}
	log = log.With(slog.String("contact_id", contactID))

	if err = c.announce(ctx, contactID, reg, number); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	log.Info("registration mirrored to crm")
	return nil
}
