package relayerhandler

import (
	"context"
	"net/http"
	"time"

	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// Client implements interfaces.Relayer against a remote node.
type Client struct {
	*api.Client
}

// NewClient creates a relayer client for the node at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{Client: api.NewClient(baseURL, timeout)}
}

func (c *Client) KeyInfo(ctx context.Context) (*interfaces.KeyInfo, error) {
	var info interfaces.KeyInfo
	if err := c.Do(ctx, http.MethodGet, KeyInfoPath, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) InputProof(ctx context.Context, req *interfaces.InputProofRequest) (*interfaces.InputProofResponse, error) {
	var resp interfaces.InputProofResponse
	if err := c.Do(ctx, http.MethodPost, InputProofPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UserDecrypt(ctx context.Context, req *interfaces.UserDecryptRequest) (*interfaces.UserDecryptResponse, error) {
	var resp interfaces.UserDecryptResponse
	if err := c.Do(ctx, http.MethodPost, UserDecryptPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
