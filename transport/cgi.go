package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cepro/chargecontroller/modbusaccess"
	"golang.org/x/exp/slog"
)

const (
	DefaultCGI = "MBCSV.cgi"

	defaultConnectTimeout  = 5 * time.Second
	defaultResponseTimeout = 15 * time.Second

	maxResponseBytes = 4096
)

// CGIClient requests registers through the MODBUS CSV page of the charge controller's LiveView web server.
type CGIClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCGIClient creates a client for the LiveView server at `host`, e.g. "192.168.1.20".
// An empty `cgi` uses the default page. A zero `timeout` uses the default response timeout.
func NewCGIClient(host string, cgi string, timeout time.Duration) (*CGIClient, error) {
	if host == "" {
		return nil, errors.New("cgi client: host required")
	}
	if cgi == "" {
		cgi = DefaultCGI
	}
	if timeout <= 0 {
		timeout = defaultResponseTimeout
	}

	dialer := &net.Dialer{Timeout: defaultConnectTimeout}

	return &CGIClient{
		url: fmt.Sprintf("http://%s/%s", host, cgi),
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: timeout,
			},
			Timeout: defaultConnectTimeout + timeout,
		},
		logger: slog.Default().With("host", host),
	}, nil
}

// Fetch implements Fetcher.
func (c *CGIClient) Fetch(ctx context.Context, address uint16, wordCount uint8) (string, error) {
	reqURL := c.requestURL(address, wordCount)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: fmt.Errorf("create request: %w", err)}
	}

	c.logger.Debug("Requesting registers", "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Address: address, WordCount: wordCount, Err: fmt.Errorf("unexpected http status: %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("Received registers", "response", string(body))

	return string(body), nil
}

// requestURL builds the query for a read of input registers. The address and count are split into high and low
// bytes, in the parameter order the LiveView server expects.
func (c *CGIClient) requestURL(address uint16, wordCount uint8) string {
	return fmt.Sprintf("%s?ID=%d&F=%d&AHI=%d&ALO=%d&RHI=%d&RLO=%d",
		c.url,
		modbusaccess.FrameID,
		modbusaccess.FrameFunction,
		address>>8,
		address&0xFF,
		uint16(wordCount)>>8,
		uint16(wordCount)&0xFF,
	)
}
