package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// envelope mirrors the node's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// httpGet performs a GET request and unwraps the enveloped JSON response.
func httpGet(url string, result any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	return decodeEnvelope(resp, "GET "+url, result)
}

// httpGetPlain performs a GET request and decodes a bare JSON response.
func httpGetPlain(url string, result any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpGetRaw performs a GET request and returns the raw response body.
func httpGetRaw(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body:\n%w", url, err)
	}

	return data, nil
}

// httpPostJSON performs a POST request with a JSON body and unwraps the
// enveloped JSON response. A nil body sends an empty request.
func httpPostJSON(url string, body any, result any) error {
	reader, err := encodeBody(body)
	if err != nil {
		return err
	}

	resp, err := http.Post(url, "application/json", reader)
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	return decodeEnvelope(resp, "POST "+url, result)
}

// httpPutJSON performs a PUT request with a JSON body and unwraps the
// enveloped JSON response.
func httpPutJSON(url string, body any, result any) error {
	reader, err := encodeBody(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, url, reader)
	if err != nil {
		return fmt.Errorf("build PUT %s:\n%w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("PUT %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	return decodeEnvelope(resp, "PUT "+url, result)
}

// encodeBody marshals a request body, or returns nil for a nil body.
func encodeBody(body any) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body:\n%w", err)
	}

	return bytes.NewReader(jsonBytes), nil
}

// decodeEnvelope decodes the node's {success, message, data} wrapper and
// unmarshals the data payload into result when one is expected.
func decodeEnvelope(resp *http.Response, request string, result any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode response:\n%w", request, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if env.Message != "" {
			return fmt.Errorf("%s: status %d: %s", request, resp.StatusCode, env.Message)
		}
		return fmt.Errorf("%s: status %d", request, resp.StatusCode)
	}

	if !env.Success {
		return fmt.Errorf("%s: node reported failure: %s", request, env.Message)
	}

	if result == nil || len(env.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("%s: decode data:\n%w", request, err)
	}

	return nil
}
