package hooks

import (
	"maps"
)

const (
	// HTTPPreRequest runs before an inbound HTTP request reaches the application.
	HTTPPreRequest = "http_pre_request"

	// HTTPPostResponse runs after the application produced a response.
	HTTPPostResponse = "http_post_response"
)

// TextPayload is implemented by payloads that carry a primary text body.
// Generic content plugins use it to inspect and rewrite payloads of any hook.
type TextPayload interface {
	// Text returns the payload's primary text.
	Text() string

	// WithText returns a copy of the payload with its primary text replaced.
	WithText(text string) any
}

// HeaderPayload is implemented by payloads that carry string headers.
type HeaderPayload interface {
	// HeaderMap returns a copy of the payload's headers.
	HeaderMap() map[string]string

	// WithHeaders returns a copy of the payload with its headers replaced.
	WithHeaders(headers map[string]string) any
}

// DataPayload is the payload of generic host-defined hooks.
type DataPayload struct {
	Data string `json:"data" validate:"required"`
}

// Text implements TextPayload.
func (p *DataPayload) Text() string { return p.Data }

// WithText implements TextPayload.
func (p *DataPayload) WithText(text string) any {
	return &DataPayload{Data: text}
}

// HTTPRequestPayload describes an inbound HTTP request.
type HTTPRequestPayload struct {
	Method     string            `json:"method" validate:"required"`
	Path       string            `json:"path" validate:"required"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
}

// Text implements TextPayload.
func (p *HTTPRequestPayload) Text() string { return p.Body }

// WithText implements TextPayload.
func (p *HTTPRequestPayload) WithText(text string) any {
	c := p.clone()
	c.Body = text
	return c
}

// HeaderMap implements HeaderPayload.
func (p *HTTPRequestPayload) HeaderMap() map[string]string { return maps.Clone(p.Headers) }

// WithHeaders implements HeaderPayload.
func (p *HTTPRequestPayload) WithHeaders(headers map[string]string) any {
	c := p.clone()
	c.Headers = headers
	return c
}

func (p *HTTPRequestPayload) clone() *HTTPRequestPayload {
	c := *p
	c.Headers = maps.Clone(p.Headers)
	return &c
}

// HTTPResponsePayload describes the application's HTTP response.
type HTTPResponsePayload struct {
	StatusCode int               `json:"status_code" validate:"gte=100,lte=599"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// Text implements TextPayload.
func (p *HTTPResponsePayload) Text() string { return p.Body }

// WithText implements TextPayload.
func (p *HTTPResponsePayload) WithText(text string) any {
	c := p.clone()
	c.Body = text
	return c
}

// HeaderMap implements HeaderPayload.
func (p *HTTPResponsePayload) HeaderMap() map[string]string { return maps.Clone(p.Headers) }

// WithHeaders implements HeaderPayload.
func (p *HTTPResponsePayload) WithHeaders(headers map[string]string) any {
	c := p.clone()
	c.Headers = headers
	return c
}

func (p *HTTPResponsePayload) clone() *HTTPResponsePayload {
	c := *p
	c.Headers = maps.Clone(p.Headers)
	return &c
}

// RegisterHTTPHooks registers the HTTP request/response hook pair.
func RegisterHTTPHooks(r *Registry) error {
	if err := r.Register(HTTPPreRequest, NewSchema[HTTPRequestPayload](), NewSchema[HTTPRequestPayload]()); err != nil {
		return err
	}
	return r.Register(HTTPPostResponse, NewSchema[HTTPResponsePayload](), NewSchema[HTTPResponsePayload]())
}

// RegisterDataHook registers a host-defined hook carrying a DataPayload.
func RegisterDataHook(r *Registry, name string) error {
	return r.Register(name, NewSchema[DataPayload](), NewSchema[DataPayload]())
}
