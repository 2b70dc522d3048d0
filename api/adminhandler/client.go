package adminhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/kms"
)

// Client submits shares on behalf of one administrator.
type Client struct {
	*api.Client

	fingerprint string
	privateKey  *ecdsa.PrivateKey
}

// NewClient creates an admin client. publicKeyPEM must be the key registered
// with the node for privateKey.
func NewClient(baseURL string, publicKeyPEM []byte, privateKey *ecdsa.PrivateKey, timeout time.Duration) *Client {
	return &Client{
		Client:      api.NewClient(baseURL, timeout),
		fingerprint: kms.Fingerprint(publicKeyPEM),
		privateKey:  privateKey,
	}
}

// Status returns the unlock progress of the node.
func (c *Client) Status(ctx context.Context) (*kms.ShamirStatus, error) {
	var status kms.ShamirStatus
	if err := c.Do(ctx, http.MethodGet, StatusPath, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SubmitShare signs share and submits it.
func (c *Client) SubmitShare(ctx context.Context, shareIndex int, share []byte) (*UnlockResponse, error) {
	sig, err := kms.SignShare(shareIndex, share, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share: %w", err)
	}

	body, err := json.Marshal(UnlockRequest{ShareIndex: shareIndex, Share: share, Signature: sig})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL()+UnlockPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := SignRequest(req, UnlockPath, body, c.fingerprint, c.privateKey); err != nil {
		return nil, err
	}

	var resp UnlockResponse
	if err := c.Send(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForUnlock polls the node until it reports the KMS unlocked.
func (c *Client) WaitForUnlock(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx)
		if err == nil && status.Unlocked {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for KMS unlock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// SignRequest sets the admin authentication headers on req. path and body
// must be what the server will see.
func SignRequest(req *http.Request, path string, body []byte, fingerprint string, privateKey *ecdsa.PrivateKey) error {
	sig, err := ecdsa.SignASN1(rand.Reader, privateKey, RequestDigest(path, body))
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set(FingerprintHeader, fingerprint)
	req.Header.Set(SignatureHeader, base64.StdEncoding.EncodeToString(sig))
	return nil
}
