// Package ffl resolves Federal Firearms License numbers against the
// external dealer directory.
package ffl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rangemark.org/internal/order"
)

// Client queries the directory over HTTP. It implements order.Directory.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ order.Directory = (*Client)(nil)

// NewClient builds a directory client with a bounded request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type dealerResponse struct {
	LicenseNumber string `json:"license_number"`
	BusinessName  string `json:"business_name"`
	Status        string `json:"status"`
}

// Lookup fetches one license record. A license the directory does not know
// is an error; an expired or revoked license comes back with Active false
// so the caller can distinguish "unknown" from "lapsed".
func (c *Client) Lookup(ctx context.Context, licenseNumber string) (order.Dealer, error) {
	endpoint := c.BaseURL + "/v1/licenses/" + url.PathEscape(licenseNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return order.Dealer{}, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return order.Dealer{}, fmt.Errorf("ffl directory: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return order.Dealer{}, fmt.Errorf("ffl license %s not found", licenseNumber)
	case resp.StatusCode != http.StatusOK:
		return order.Dealer{}, fmt.Errorf("ffl directory returned %d", resp.StatusCode)
	}

	var body dealerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return order.Dealer{}, fmt.Errorf("decode directory response: %w", err)
	}
	return order.Dealer{
		LicenseNumber: body.LicenseNumber,
		BusinessName:  body.BusinessName,
		Active:        strings.EqualFold(body.Status, "active"),
	}, nil
}
