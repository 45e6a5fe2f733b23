package trust

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/webverify/webverify/document"
)

const maxSignatureSize = 1 << 20 // 1 MB

// Verifier orchestrates document verification: signature discovery and
// fetch, issuer extraction, key resolution, the cryptographic check and
// author derivation. Each call makes exactly one attempt.
type Verifier struct {
	resolver   *KeyResolver
	httpClient *http.Client
	logger     *slog.Logger
}

// VerifierOption is a functional option for configuring a Verifier.
type VerifierOption func(*Verifier)

// WithHTTPClient sets the client used to fetch signatures.
func WithHTTPClient(hc *http.Client) VerifierOption {
	return func(v *Verifier) { v.httpClient = hc }
}

// WithVerifierLogger sets the logger for the verifier.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier creates a Verifier that resolves keys through resolver.
func NewVerifier(resolver *KeyResolver, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		resolver:   resolver,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks content fetched from docURL and converts the result into an
// Outcome. Errors never escape: a missing signature is UNVERIFIED and every
// other failure is FAILURE with the error's message.
func (v *Verifier) Verify(ctx context.Context, docURL string, content []byte) Outcome {
	author, err := v.Check(ctx, docURL, content)
	switch {
	case err == nil:
		v.logger.Info("verification success", "url", docURL, "key_id", author.KeyID)
		return Verified(author)
	case errors.Is(err, ErrNoSignature):
		v.logger.Debug("no signature found", "url", docURL)
		return Unverified()
	default:
		v.logger.Warn("verification failed", "url", docURL, "error", err)
		return Failed(err)
	}
}

// Check verifies content fetched from docURL against its declared detached
// signature and returns the signing Author.
//
//  1. Locate the signature link and resolve it against docURL
//  2. Fetch the signature bytes
//  3. Extract the issuer key id
//  4. Resolve key material for that id
//  5. Check content against the signature
//  6. Derive the Author from the signer's primary identity
func (v *Verifier) Check(ctx context.Context, docURL string, content []byte) (Author, error) {
	sigURL, ok, err := document.SignatureURL(docURL, content)
	if !ok {
		return Author{}, ErrNoSignature
	}
	if err != nil {
		return Author{}, fmt.Errorf("%w: %w", ErrSignatureFetch, err)
	}

	sig, err := v.fetchSignature(ctx, sigURL)
	if err != nil {
		return Author{}, fmt.Errorf("%w: %w", ErrSignatureFetch, err)
	}

	issuer, err := IssuerKeyID(sig)
	if err != nil {
		return Author{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	keys, err := v.resolver.Resolve(ctx, issuer)
	if err != nil {
		return Author{}, err
	}

	signer, err := CheckDetached(keys, content, sig)
	if err != nil {
		return Author{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	author, err := AuthorFromEntity(signer, issuer)
	if err != nil {
		return Author{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}
	return author, nil
}

func (v *Verifier) fetchSignature(ctx context.Context, sigURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sigURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", sigURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSignatureSize))
	if err != nil {
		return nil, fmt.Errorf("reading signature: %w", err)
	}
	return body, nil
}
