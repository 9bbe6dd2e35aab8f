package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samelhousseini/gpt-realtime-agents/internal/bootstrap"
	"github.com/samelhousseini/gpt-realtime-agents/internal/policy"
)

var ErrUpstream = errors.New("realtime session upstream failed")

// IssuerConfig points at the realtime service that mints ephemeral client
// secrets. The API key stays server-side; clients only ever see the
// short-lived secret.
type IssuerConfig struct {
	SessionURL        string
	APIKey            string
	WebRTCURL         string
	DefaultDeployment string
	DefaultVoice      string
}

type Issuer struct {
	cfg    IssuerConfig
	client *http.Client
}

func NewIssuer(cfg IssuerConfig, client *http.Client) *Issuer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Issuer{cfg: cfg, client: client}
}

type upstreamSession struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// Issue requests a fresh ephemeral key from the upstream realtime service.
func (i *Issuer) Issue(ctx context.Context, deployment, voice string) (bootstrap.Credentials, error) {
	if deployment == "" {
		deployment = i.cfg.DefaultDeployment
	}
	if voice == "" {
		voice = i.cfg.DefaultVoice
	}

	payload, err := json.Marshal(map[string]string{"model": deployment, "voice": voice})
	if err != nil {
		return bootstrap.Credentials{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.SessionURL, bytes.NewReader(payload))
	if err != nil {
		return bootstrap.Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", i.cfg.APIKey)

	resp, err := i.client.Do(req)
	if err != nil {
		return bootstrap.Credentials{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return bootstrap.Credentials{}, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// Partial upstream failures have been seen echoing the request and
		// minted secret back in the error body.
		detail, _ := policy.RedactSecrets(strings.TrimSpace(string(body)))
		return bootstrap.Credentials{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, detail)
	}

	var up upstreamSession
	if err := json.Unmarshal(body, &up); err != nil {
		return bootstrap.Credentials{}, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if up.ID == "" || up.ClientSecret.Value == "" {
		return bootstrap.Credentials{}, fmt.Errorf("%w: malformed session response", ErrUpstream)
	}

	return bootstrap.Credentials{
		SessionID:    up.ID,
		EphemeralKey: up.ClientSecret.Value,
		WebRTCURL:    i.cfg.WebRTCURL,
		Deployment:   deployment,
		Voice:        voice,
	}, nil
}
