package orchestrator

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
)

const readBufferSize = 4096

// openStream POSTs one request round and returns the response with its
// body still open. Non-2xx responses are drained and turned into the
// vendor's decoded error.
func (o *Orchestrator) openStream(ctx context.Context, provider providers.Provider, body []byte) (*http.Response, error) {
	endpoint, err := provider.Endpoint()
	if err != nil {
		return nil, &classified{code: events.ErrorCodeRequestBuild, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &classified{code: events.ErrorCodeRequestBuild, err: errors.Wrap(err, "could not create request")}
	}
	for key, values := range provider.Headers() {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}

	log.Debug().
		Str("provider", provider.ID()).
		Str("model", provider.Model()).
		Str("endpoint", endpoint).
		Int("body_bytes", len(body)).
		Msg("opening vendor stream")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &classified{code: events.ErrorCodeTransport, err: errors.Wrap(err, "request failed")}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			_ = resp.Body.Close()
		}()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			log.Warn().Err(readErr).Int("status", resp.StatusCode).Msg("could not read error response body")
		}
		return nil, &classified{code: events.ErrorCodeVendor, err: providers.DecodeErrorPayload(provider.ID(), resp.StatusCode, errBody)}
	}
	return resp, nil
}

// consumeStream reads the response body and hands every normalized chunk
// to handle, until EOF or failure. Cancellation of ctx surfaces as the
// context's error, not as a read error.
func (o *Orchestrator) consumeStream(ctx context.Context, provider providers.Provider, resp *http.Response, handle func(*providers.StreamChunk) error) error {
	defer func() {
		_ = resp.Body.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunks, err := provider.ParseStreamChunk(buf[:n])
			if err != nil {
				return &classified{code: events.ErrorCodeVendor, err: err}
			}
			for _, chunk := range chunks {
				if err := handle(chunk); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &classified{code: events.ErrorCodeTransport, err: errors.Wrap(readErr, "stream read failed")}
		}
	}
}
