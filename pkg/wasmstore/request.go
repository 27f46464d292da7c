package wasmstore

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dylibso/wasmstore_sdk_go/internal/httpx"
	"github.com/dylibso/wasmstore_sdk_go/internal/wasmstoreapi"
)

// buildRequest describes one store request. auth and branch become the
// Wasmstore-Auth and Wasmstore-Branch headers when non-empty; an empty value
// leaves the header out so the server applies its own default. The body is
// passed through untouched.
//
// Browsers need cross-origin mode for a store on another origin; Go
// transports have no such mode, so there is nothing to set here.
func buildRequest(method, route string, body io.Reader, auth, branch string) (*httpx.Request, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	return &httpx.Request{
		Method: method,
		Path:   route,
		Header: sessionHeader(auth, branch),
		Body:   body,
	}, nil
}

func sessionHeader(auth, branch string) http.Header {
	h := make(http.Header, 2)
	if auth != "" {
		h.Set(wasmstoreapi.HeaderAuth, auth)
	}
	if branch != "" {
		h.Set(wasmstoreapi.HeaderBranch, branch)
	}
	return h
}

// send is the only place the client issues HTTP requests, so every call
// carries the session's auth and branch.
func (c *Client) send(ctx context.Context, method, route string, body io.Reader) (*http.Response, error) {
	req, err := buildRequest(method, route, body, c.session.Auth, c.session.Branch)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: %s %s: %w", method, route, err)
	}
	return resp, nil
}

// status sends a request whose result is only its status.
func (c *Client) status(ctx context.Context, method, route string) (Status, error) {
	resp, err := c.send(ctx, method, route, nil)
	if err != nil {
		return Status{}, err
	}
	body, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return Status{}, fmt.Errorf("wasmstore: read %s response: %w", route, err)
	}
	return Status{Code: resp.StatusCode, Body: body}, nil
}

// text sends a request whose successful result is a plain-text body.
func (c *Client) text(ctx context.Context, method, route string, body io.Reader) (string, error) {
	resp, err := c.send(ctx, method, route, body)
	if err != nil {
		return "", err
	}
	if !httpx.Success(resp.StatusCode) {
		return "", httpx.NewHTTPError(resp)
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return "", fmt.Errorf("wasmstore: read %s response: %w", route, err)
	}
	return wasmstoreapi.ExtractText(data), nil
}

// document sends a GET whose successful result is a JSON body.
func (c *Client) document(ctx context.Context, route string) (Document, error) {
	resp, err := c.send(ctx, http.MethodGet, route, nil)
	if err != nil {
		return nil, err
	}
	if !httpx.Success(resp.StatusCode) {
		return nil, httpx.NewHTTPError(resp)
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: read %s response: %w", route, err)
	}
	payload, err := wasmstoreapi.ExtractJSON(data)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: decode %s response: %w", route, err)
	}
	return Document(payload), nil
}
