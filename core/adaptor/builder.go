package adaptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dexproxy/dexproxy/crypto/ethsigner"
	"github.com/dexproxy/dexproxy/log"
)

// NewBundleReplacementUUID mints a fresh replacementUuid for a bundle's
// first submission. Renumbering (cancel-by-replace) reuses the same UUID
// on every later SendBundle call for that request, so callers must stash
// it via Request.SetBundleUUID rather than minting a new one per retry.
func NewBundleReplacementUUID() string {
	return uuid.NewString()
}

// recognizedBuilderHosts is matched case-insensitively against a builder's
// RPC URL to decide whether it expects a signed X-Flashbots-Signature
// header; builders outside this list receive the request unsigned.
var recognizedBuilderHosts = []string{"flashbots", "titanbuilder"}

func needsFlashbotsSignature(builderRPCURL string) bool {
	lower := strings.ToLower(builderRPCURL)
	for _, host := range recognizedBuilderHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

type bundleParams struct {
	Txs             []string `json:"txs"`
	BlockNumber     string   `json:"blockNumber"`
	ReplacementUUID string   `json:"replacementUuid"`
}

type bundleRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int            `json:"id"`
	Method  string         `json:"method"`
	Params  []bundleParams `json:"params"`
}

type bundleResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// BundleSender submits a set of raw signed transactions as an atomic,
// block-targeted bundle to a set of builder RPC endpoints, signing the
// request body for builders that require it.
type BundleSender struct {
	signer       *ethsigner.Signer
	builderURLs  []string
	extraHeaders http.Header
	httpClient   *http.Client
	nextID       int
}

// NewBundleSender constructs a BundleSender posting to builderURLs, signing
// requests with signer where the builder host requires it.
func NewBundleSender(signer *ethsigner.Signer, builderURLs []string, extraHeaders http.Header) *BundleSender {
	if extraHeaders == nil {
		extraHeaders = http.Header{}
	}
	return &BundleSender{
		signer:       signer,
		builderURLs:  builderURLs,
		extraHeaders: extraHeaders,
		httpClient:   &http.Client{},
		nextID:       1,
	}
}

// SendBundle posts rawTxs (hex-encoded signed transactions, in submission
// order) as a single eth_sendBundle call targeting targetBlockNum, tagged
// with replacementUUID so a later call with the same UUID atomically
// replaces this bundle (used for renumber-on-cancel).
func (b *BundleSender) SendBundle(ctx context.Context, rawTxs []string, targetBlockNum uint64, replacementUUID string) error {
	id := b.nextID
	b.nextID++

	body := bundleRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "eth_sendBundle",
		Params: []bundleParams{{
			Txs:             rawTxs,
			BlockNumber:     fmt.Sprintf("0x%x", targetBlockNum),
			ReplacementUUID: replacementUUID,
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal bundle request: %w", err)
	}

	flashbotsSig, err := b.signer.SignRaw(payload)
	if err != nil {
		return fmt.Errorf("sign bundle body: %w", err)
	}

	errs := make(chan error, len(b.builderURLs))
	for _, url := range b.builderURLs {
		go func(url string) {
			errs <- b.shootBundle(ctx, url, payload, flashbotsSig)
		}(url)
	}
	var firstErr error
	for range b.builderURLs {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *BundleSender) shootBundle(ctx context.Context, builderURL string, payload []byte, flashbotsSig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, builderURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", builderURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range b.extraHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if needsFlashbotsSignature(builderURL) {
		req.Header.Set("X-Flashbots-Signature", flashbotsSig)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		log.Errorw(err, fmt.Sprintf("error posting bundle to %s", builderURL))
		return err
	}
	defer resp.Body.Close()

	var parsed bundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Errorw(err, fmt.Sprintf("error decoding bundle response from %s", builderURL))
		return err
	}
	if parsed.Error != nil {
		err := fmt.Errorf("builder %s rejected bundle: %s", builderURL, parsed.Error.Message)
		log.Warnw("bundle rejected by builder", "builder", builderURL, "error", parsed.Error.Message)
		return err
	}
	log.Infow("bundle accepted by builder", "builder", builderURL)
	return nil
}
