package domainauth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/sendora/internal/config"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestTimeout = 12 * time.Second

type sendgridDNSEntry struct {
	Type  string `json:"type"`
	Host  string `json:"host"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Valid bool   `json:"valid"`
}

type sendgridDNS struct {
	MailCNAME sendgridDNSEntry `json:"mail_cname"`
	DKIM1     sendgridDNSEntry `json:"dkim1"`
	DKIM2     sendgridDNSEntry `json:"dkim2"`
}

type sendgridDomain struct {
	ID    json.Number `json:"id"`
	Valid bool        `json:"valid"`
	DNS   sendgridDNS `json:"dns"`
}

type sendgridValidation struct {
	Valid             bool `json:"valid"`
	ValidationResults map[string]struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	} `json:"validation_results"`
}

type sendgridErrorBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Error string `json:"error"`
}

// Client talks to a SendGrid-compatible whitelabel-domain API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewClient(cfg config.DomainAuthConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *Client {
	rps := cfg.MaxRequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log.Named("domainauth.client"),
		metrics: metrics,
	}
}

func (c *Client) Authenticate(ctx context.Context, domain string) (*Registration, error) {
	payload := map[string]any{
		"domain":             domain,
		"automatic_security": true,
	}
	var out sendgridDomain
	if err := c.doRequest(ctx, "authenticate", http.MethodPost, "/v3/whitelabel/domains", payload, &out); err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(out.ID.String())
	if reference == "" {
		return nil, &ProviderError{Message: "response missing domain id"}
	}
	return &Registration{
		ReferenceID: reference,
		Records:     recordsFromDNS(out.DNS),
		Valid:       out.Valid,
	}, nil
}

func (c *Client) Validate(ctx context.Context, referenceID string) (*ValidationResult, error) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return nil, &ProviderError{Message: "missing reference id"}
	}
	var out sendgridValidation
	path := "/v3/whitelabel/domains/" + referenceID + "/validate"
	if err := c.doRequest(ctx, "validate", http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	result := &ValidationResult{
		Valid:   out.Valid,
		Records: make(map[string]RecordResult, len(out.ValidationResults)),
	}
	for name, record := range out.ValidationResults {
		result.Records[name] = RecordResult{
			Valid:  record.Valid,
			Reason: strings.TrimSpace(record.Reason),
		}
	}
	return result, nil
}

func (c *Client) Delete(ctx context.Context, referenceID string) error {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return &ProviderError{Message: "missing reference id"}
	}
	return c.doRequest(ctx, "delete", http.MethodDelete, "/v3/whitelabel/domains/"+referenceID, nil, nil)
}

func (c *Client) doRequest(ctx context.Context, operation, method, path string, payload any, out any) error {
	if c.apiKey == "" {
		return &ProviderError{Message: "provider api key is not configured"}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &ProviderError{Message: "request aborted", Err: err}
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &ProviderError{Message: "encode request", Err: err}
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &ProviderError{Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordProviderCall(ctx, operation, "transport_error")
		return &ProviderError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		message := decodeErrorMessage(resp.Body)
		c.metrics.RecordProviderCall(ctx, operation, "error")
		c.log.Warn("domain provider call failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("message", message),
		)
		return &ProviderError{Status: resp.StatusCode, Message: message}
	}

	c.metrics.RecordProviderCall(ctx, operation, "ok")
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Message: "decode response", Err: err}
	}
	return nil
}

// recordsFromDNS flattens the provider's named dns object into the order
// tenants see: routing CNAME first, then the two DKIM records.
func recordsFromDNS(dns sendgridDNS) []DNSRecord {
	named := []struct {
		name  string
		entry sendgridDNSEntry
	}{
		{RecordMailCNAME, dns.MailCNAME},
		{RecordDKIM1, dns.DKIM1},
		{RecordDKIM2, dns.DKIM2},
	}

	records := make([]DNSRecord, 0, len(named))
	for _, item := range named {
		host := strings.TrimSpace(item.entry.Host)
		if host == "" {
			continue
		}
		// Some deployments say "data", others "value".
		value := strings.TrimSpace(item.entry.Data)
		if value == "" {
			value = strings.TrimSpace(item.entry.Value)
		}
		recordType := strings.ToUpper(strings.TrimSpace(item.entry.Type))
		if recordType == "" {
			recordType = "CNAME"
		}
		records = append(records, DNSRecord{
			Name:  item.name,
			Type:  recordType,
			Host:  host,
			Value: value,
			Valid: item.entry.Valid,
		})
	}
	return records
}

func decodeErrorMessage(r io.Reader) string {
	var body sendgridErrorBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return ""
	}
	for _, item := range body.Errors {
		if message := strings.TrimSpace(item.Message); message != "" {
			return message
		}
	}
	return strings.TrimSpace(body.Error)
}
