package unl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/postfiatorg/validator-history-service/internal/fetch"
	"github.com/postfiatorg/validator-history-service/internal/model"
)

// RPCSourceName is the list tag of keys discovered through the RPC node.
const RPCSourceName = "rpc"

// RPCClient calls the JSON-RPC interface of a network node.
type RPCClient struct {
	url    string
	client *fetch.Client
}

// NewRPCClient returns a client for the node at url.
func NewRPCClient(url string, client *fetch.Client) *RPCClient {
	return &RPCClient{url: url, client: client}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

type rpcError struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (e rpcError) err(method string) error {
	if e.Status == "error" || e.Error != "" {
		msg := e.ErrorMessage
		if msg == "" {
			msg = e.Error
		}
		return fmt.Errorf("rpc %s: %s", method, msg)
	}
	return nil
}

// Validators returns the node's trusted validator keys.
func (c *RPCClient) Validators(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			rpcError
			TrustedValidatorKeys []string `json:"trusted_validator_keys"`
		} `json:"result"`
	}
	if err := c.client.PostJSON(ctx, c.url, rpcRequest{Method: "validators"}, &resp); err != nil {
		return nil, err
	}
	if err := resp.Result.err("validators"); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	return resp.Result.TrustedValidatorKeys, nil
}

// Manifest returns the node's current manifest for key in base64 text
// form. It returns model.ErrNotFound when the node knows no manifest.
func (c *RPCClient) Manifest(ctx context.Context, key string) (string, error) {
	var resp struct {
		Result struct {
			rpcError
			Manifest string `json:"manifest"`
		} `json:"result"`
	}
	req := rpcRequest{Method: "manifest", Params: []any{map[string]string{"public_key": key}}}
	if err := c.client.PostJSON(ctx, c.url, req, &resp); err != nil {
		return "", err
	}
	if err := resp.Result.err("manifest"); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	if resp.Result.Manifest == "" {
		return "", fmt.Errorf("%w: manifest for %s", model.ErrNotFound, key)
	}
	return resp.Result.Manifest, nil
}

// RPCSource presents the node's trusted keys as a trusted list.
type RPCSource struct {
	client      *RPCClient
	concurrency int
	logger      *slog.Logger
}

// NewRPCSource returns a source that looks up manifests with at most
// concurrency calls in flight.
func NewRPCSource(client *RPCClient, concurrency int, logger *slog.Logger) *RPCSource {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RPCSource{client: client, concurrency: concurrency, logger: logger}
}

func (s *RPCSource) Name() string { return RPCSourceName }

// Fetch lists trusted keys and resolves each manifest. Keys whose manifest
// cannot be retrieved are reported in Unresolved rather than dropped.
func (s *RPCSource) Fetch(ctx context.Context) (*model.TrustedList, error) {
	keys, err := s.client.Validators(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu         sync.Mutex
		entries    []model.ListEntry
		unresolved []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			m, err := s.client.Manifest(gctx, key)
			if err != nil {
				s.logger.Warn("manifest lookup failed", "source", RPCSourceName, "key", key, "err", err)
				mu.Lock()
				unresolved = append(unresolved, key)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			entries = append(entries, model.ListEntry{ValidationPublicKey: key, Manifest: m})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ValidationPublicKey < entries[j].ValidationPublicKey
	})
	sort.Strings(unresolved)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: rpc node returned no validators", model.ErrNotFound)
	}
	return &model.TrustedList{Name: RPCSourceName, Entries: entries, Unresolved: unresolved}, nil
}
