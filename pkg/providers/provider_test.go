package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeErrorPayloadOpenAIShape(t *testing.T) {
	body := []byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`)
	err := DecodeErrorPayload("openai", 401, body)
	assert.EqualError(t, err, "openai API error (HTTP 401): invalid_request_error: Incorrect API key provided")
}

func TestDecodeErrorPayloadAnthropicShape(t *testing.T) {
	body := []byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`)
	err := DecodeErrorPayload("anthropic", 529, body)
	assert.EqualError(t, err, "anthropic API error (HTTP 529): overloaded_error: Overloaded")
}

func TestDecodeErrorPayloadGeminiShape(t *testing.T) {
	body := []byte(`{"error": {"code": 400, "message": "Invalid JSON payload received.", "status": "INVALID_ARGUMENT"}}`)
	err := DecodeErrorPayload("google", 400, body)
	assert.EqualError(t, err, "google API error (HTTP 400): INVALID_ARGUMENT: Invalid JSON payload received.")
}

func TestDecodeErrorPayloadOllamaShape(t *testing.T) {
	body := []byte(`{"error": "model 'mistral' not found, try pulling it first"}`)
	err := DecodeErrorPayload("ollama", 404, body)
	assert.EqualError(t, err, "ollama API error (HTTP 404): model 'mistral' not found, try pulling it first")
}

func TestDecodeErrorPayloadOpaqueBody(t *testing.T) {
	err := DecodeErrorPayload("openai", 502, []byte("<html>Bad Gateway</html>"))
	assert.EqualError(t, err, "openai API error (HTTP 502): <html>Bad Gateway</html>")

	err = DecodeErrorPayload("openai", 500, nil)
	assert.EqualError(t, err, "openai API error (HTTP 500)")
}
