package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExchangeResponse is the coordinator's reply to one contribution.
type ExchangeResponse struct {
	Parts [][]byte `json:"parts"`
}

// CollectivePath returns the coordinator route for one contribution.
func CollectivePath(seq uint64, op Op, rank int) string {
	return fmt.Sprintf("/v1/collectives/%d/%s/ranks/%d", seq, op, rank)
}

// HTTPConfig configures a worker that reaches the coordinator over HTTP.
type HTTPConfig struct {
	Rank    int
	Size    int
	BaseURL string        // e.g. http://10.0.0.5:7070
	Timeout time.Duration // per collective, including waiting for peers
	Logger  *zap.Logger
}

// HTTP is a group member that talks to a coordinator served by the manager.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
	seq    uint64
}

// NewHTTP creates a new HTTP group member
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.Size < 1 || cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("invalid rank %d for group of %d", cfg.Rank, cfg.Size)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("coordinator address is required")
	}
	if !strings.Contains(cfg.BaseURL, "://") {
		cfg.BaseURL = "http://" + cfg.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With(zap.Int("rank", cfg.Rank)),
	}, nil
}

func (h *HTTP) Rank() int { return h.cfg.Rank }
func (h *HTTP) Size() int { return h.cfg.Size }

func (h *HTTP) Barrier(ctx context.Context) error {
	_, err := h.exchange(ctx, OpBarrier, nil)
	return err
}

func (h *HTTP) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	if h.cfg.Rank != ManagerRank {
		payload = nil
	}
	parts, err := h.exchange(ctx, OpBroadcast, payload)
	if err != nil {
		return nil, err
	}
	if len(parts) != 1 {
		return nil, fmt.Errorf("broadcast returned %d parts", len(parts))
	}
	return parts[0], nil
}

func (h *HTTP) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	return h.exchange(ctx, OpGather, payload)
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// exchange posts one contribution. Connection errors are retried until the
// timeout so workers may start before the coordinator listens.
func (h *HTTP) exchange(ctx context.Context, op Op, payload []byte) ([][]byte, error) {
	h.seq++
	seq := h.seq
	url := h.cfg.BaseURL + CollectivePath(seq, op, h.cfg.Rank)

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	backoff := 50 * time.Millisecond
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("collective %d (%s): %w", seq, op, ctx.Err())
			}
			h.logger.Debug("coordinator not reachable, retrying", zap.Uint64("seq", seq), zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("collective %d (%s): %w", seq, op, ctx.Err())
			}
			backoff = min(backoff*2, 2*time.Second)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("collective %d (%s): coordinator returned %d: %s", seq, op, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var out ExchangeResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("collective %d (%s): %w", seq, op, err)
		}
		return out.Parts, nil
	}
}
