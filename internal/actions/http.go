package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/btnflow/btnflow/internal/expressions"
	"github.com/btnflow/btnflow/internal/template"
	"github.com/btnflow/btnflow/pkg/schema"
)

// HTTPConfig configures the shared HTTP transport.
type HTTPConfig struct {
	DefaultTimeout time.Duration
	MaxRetries     int
	RetryWait      time.Duration
	Debug          bool
}

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultRetryWait   = 100 * time.Millisecond
)

// HTTPHandler executes one user-defined HTTP action. The action definition's
// Config carries three blocks:
//
//	request: method, url, headers, body, timeout (all values templatable)
//	parse:   extractor (jq or template) plus named variables
//	render:  message template, format, next_menu_id, button overrides
//
// The handler renders the request against the node scope, performs the call,
// extracts values from the response, and returns outputs mixed with chat
// control effects.
type HTTPHandler struct {
	def    schema.ActionDefinition
	client *resty.Client
	render *template.Engine
	jq     *expressions.GoJQEngine
}

// NewHTTPHandler creates a handler for an HTTP action definition. The resty
// client is shared across invocations of this action.
func NewHTTPHandler(def schema.ActionDefinition, cfg HTTPConfig) *HTTPHandler {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}

	client := resty.New().
		SetTimeout(cfg.DefaultTimeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetDebug(cfg.Debug)

	return &HTTPHandler{
		def:    def,
		client: client,
		render: template.New(),
		jq:     expressions.NewGoJQEngine(),
	}
}

// Definition returns the stored action definition.
func (h *HTTPHandler) Definition() schema.ActionDefinition { return h.def }

// Invoke runs the request/parse/render pipeline. In preview mode the network
// call is skipped and response-dependent values resolve to nil.
func (h *HTTPHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	cfg := h.def.Config
	if cfg == nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "http action %q has no config", h.def.ID)
	}
	scope := call.Scope
	if scope == nil {
		scope = template.NewScope(nil, nil, nil, nil)
	}

	req, err := h.buildRequest(cfg, scope)
	if err != nil {
		return nil, err
	}

	var response map[string]any
	if !call.Preview {
		response, err = h.execute(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	scope.Response = response

	outputs := map[string]any{}
	if response != nil {
		outputs["status_code"] = response["status_code"]
	}

	parseCfg := mapParam(cfg, "parse")
	extracted, err := h.extract(ctx, parseCfg, scope, call.Preview)
	if err != nil {
		return nil, err
	}
	scope.Extracted = extracted
	outputs["extracted"] = extracted

	if err := h.parseVariables(ctx, parseCfg, scope, outputs, call.Preview); err != nil {
		return nil, err
	}

	if err := h.renderEffects(cfg, scope, outputs); err != nil {
		return nil, err
	}

	return outputs, nil
}

// buildRequest renders the request block into a concrete request spec.
func (h *HTTPHandler) buildRequest(cfg map[string]any, scope *template.Scope) (*httpRequest, error) {
	requestCfg := mapParam(cfg, "request")
	if requestCfg == nil {
		// Flat legacy layout: method/url/... directly on the config.
		requestCfg = cfg
	}

	urlTemplate := stringParam(requestCfg, "url", "")
	if urlTemplate == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "http action %q missing request url", h.def.ID)
	}

	rawURL, err := h.render.Render(urlTemplate, scope)
	if err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "http action %q: invalid url %q", h.def.ID, rawURL).WithCause(err)
	}

	req := &httpRequest{
		method:  strings.ToUpper(stringParam(requestCfg, "method", "GET")),
		url:     rawURL,
		timeout: h.timeout(requestCfg),
		headers: map[string]string{},
	}

	if err := h.renderHeaders(requestCfg, scope, req); err != nil {
		return nil, err
	}
	if err := h.renderBody(requestCfg, scope, req); err != nil {
		return nil, err
	}
	return req, nil
}

type httpRequest struct {
	method  string
	url     string
	headers map[string]string
	timeout time.Duration

	jsonBody any
	formBody map[string]string
	rawBody  string
	hasBody  bool
}

// timeout reads a numeric seconds value or a duration string.
func (h *HTTPHandler) timeout(requestCfg map[string]any) time.Duration {
	switch v := requestCfg["timeout"].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

// renderHeaders accepts both map and [{key, value}] header layouts.
func (h *HTTPHandler) renderHeaders(requestCfg map[string]any, scope *template.Scope, req *httpRequest) error {
	switch headers := requestCfg["headers"].(type) {
	case map[string]any:
		for k, v := range headers {
			rendered, err := h.render.Render(fmt.Sprintf("%v", v), scope)
			if err != nil {
				return err
			}
			req.headers[k] = rendered
		}
	case []any:
		for _, item := range headers {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key := stringParam(entry, "key", stringParam(entry, "name", ""))
			if key == "" {
				continue
			}
			rendered, err := h.render.Render(stringParam(entry, "value", ""), scope)
			if err != nil {
				return err
			}
			req.headers[key] = rendered
		}
	}
	return nil
}

// renderBody handles the mode-tagged body layout (json, form, text, raw) and
// the untagged shorthand where a map means JSON and a string means raw text.
func (h *HTTPHandler) renderBody(requestCfg map[string]any, scope *template.Scope, req *httpRequest) error {
	bodyCfg, ok := requestCfg["body"]
	if !ok || bodyCfg == nil {
		return nil
	}
	req.hasBody = true

	if tagged, ok := bodyCfg.(map[string]any); ok {
		if mode := strings.ToLower(stringParam(tagged, "mode", "")); mode != "" {
			switch mode {
			case "json":
				rendered, err := h.render.RenderStructure(tagged["json"], scope)
				if err != nil {
					return err
				}
				req.jsonBody = rendered
			case "form", "urlencoded":
				rendered, err := h.render.RenderStructure(tagged["form"], scope)
				if err != nil {
					return err
				}
				req.formBody = map[string]string{}
				if m, ok := rendered.(map[string]any); ok {
					for k, v := range m {
						if v == nil {
							req.formBody[k] = ""
						} else {
							req.formBody[k] = fmt.Sprintf("%v", v)
						}
					}
				}
			default: // text, raw
				src := stringParam(tagged, "text", stringParam(tagged, "raw", ""))
				rendered, err := h.render.Render(src, scope)
				if err != nil {
					return err
				}
				req.rawBody = rendered
			}
			return nil
		}
	}

	switch body := bodyCfg.(type) {
	case string:
		rendered, err := h.render.Render(body, scope)
		if err != nil {
			return err
		}
		req.rawBody = rendered
	default:
		rendered, err := h.render.RenderStructure(body, scope)
		if err != nil {
			return err
		}
		req.jsonBody = rendered
	}
	return nil
}

// execute performs the network call and shapes the response into the map the
// response scope root exposes: status_code, status, headers, text, json.
func (h *HTTPHandler) execute(ctx context.Context, spec *httpRequest) (map[string]any, error) {
	if spec.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.timeout)
		defer cancel()
	}

	r := h.client.R().SetContext(ctx).SetHeaders(spec.headers)
	switch {
	case spec.jsonBody != nil:
		r.SetBody(spec.jsonBody)
	case spec.formBody != nil:
		r.SetFormData(spec.formBody)
	case spec.hasBody:
		r.SetBody(spec.rawBody)
	}

	resp, err := r.Execute(spec.method, spec.url)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler,
			"http action %q: request failed: %v", h.def.ID, err).WithCause(err)
	}

	headers := make(map[string]any, len(resp.Header()))
	for k := range resp.Header() {
		headers[k] = resp.Header().Get(k)
	}

	text := string(resp.Body())
	var parsed any
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			parsed = nil
		}
	}

	return map[string]any{
		"status_code": resp.StatusCode(),
		"status":      resp.Status(),
		"headers":     headers,
		"text":        text,
		"json":        parsed,
	}, nil
}

// extract applies the configured extractor to the response.
func (h *HTTPHandler) extract(ctx context.Context, parseCfg map[string]any, scope *template.Scope, preview bool) (any, error) {
	extractorCfg := mapParam(parseCfg, "extractor")
	if extractorCfg == nil {
		return nil, nil
	}
	extractorType := strings.ToLower(stringParam(extractorCfg, "type", "none"))
	expression := stringParam(extractorCfg, "expression", "")
	if extractorType == "none" || expression == "" {
		return nil, nil
	}

	switch extractorType {
	case "template":
		return h.render.RenderValue(expression, scope)
	case "jq":
		if scope.Response == nil {
			if preview {
				return nil, nil
			}
			return nil, schema.NewErrorf(schema.ErrCodeHandler,
				"http action %q: jq extractor needs a response", h.def.ID)
		}
		return h.jq.Evaluate(ctx, expression, map[string]any{"response": scope.Response})
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"http action %q: unsupported extractor type %q", h.def.ID, extractorType)
	}
}

// parseVariables resolves the parse.variables entries into outputs. A failed
// entry is skipped rather than failing the whole action, matching the
// best-effort contract of response parsing.
func (h *HTTPHandler) parseVariables(ctx context.Context, parseCfg map[string]any, scope *template.Scope, outputs map[string]any, preview bool) error {
	for _, raw := range sliceParam(parseCfg, "variables") {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := stringParam(entry, "name", "")
		if name == "" {
			continue
		}

		switch strings.ToLower(stringParam(entry, "type", "template")) {
		case "template":
			val, err := h.render.RenderValue(stringParam(entry, "template", ""), scope)
			if err != nil {
				continue
			}
			outputs[name] = val
		case "jq":
			if scope.Response == nil {
				if !preview {
					outputs[name] = nil
				}
				continue
			}
			val, err := h.jq.Evaluate(ctx, stringParam(entry, "expression", ""),
				map[string]any{"response": scope.Response})
			if err != nil {
				continue
			}
			outputs[name] = val
		case "static":
			outputs[name] = entry["value"]
		case "runtime":
			outputs[name] = scope.Runtime[stringParam(entry, "key", "")]
		}
	}
	return nil
}

// renderEffects renders the render block into chat control outputs.
func (h *HTTPHandler) renderEffects(cfg map[string]any, scope *template.Scope, outputs map[string]any) error {
	renderCfg := mapParam(cfg, "render")
	if renderCfg == nil {
		return nil
	}

	// The message sub-block is preferred; flat keys are the legacy layout.
	messageCfg := mapParam(renderCfg, "message")
	src := messageCfg
	if src == nil {
		src = renderCfg
	}

	if tpl := stringParam(src, "template", ""); tpl != "" {
		text, err := h.render.Render(tpl, scope)
		if err != nil {
			return err
		}
		outputs[schema.ControlNewText] = text
		outputs[schema.ControlParseMode] = strings.ToLower(stringParam(src, "format", "html"))
	}

	nextMenu := stringParam(src, "next_menu_id", stringParam(renderCfg, "next_menu_id", ""))
	if nextMenu != "" {
		rendered, err := h.render.Render(nextMenu, scope)
		if err != nil {
			return err
		}
		outputs[schema.ControlNextMenuID] = rendered
	}

	var overrides []map[string]any
	for _, block := range []map[string]any{messageCfg, renderCfg} {
		if block == nil {
			continue
		}
		for _, raw := range sliceParam(block, "button_overrides") {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			rendered, err := h.render.RenderStructure(entry, scope)
			if err != nil {
				return err
			}
			overrides = append(overrides, rendered.(map[string]any))
		}
	}

	if titleTpl := stringParam(renderCfg, "button_title_template", ""); titleTpl != "" {
		title, err := h.render.Render(titleTpl, scope)
		if err != nil {
			return err
		}
		overrides = append(overrides, map[string]any{
			"target": "self", "text": title, "temporary": true,
		})
	}

	if len(overrides) > 0 {
		outputs[schema.ControlButtonOverrides] = overrides

		selfID := stringParam(scope.Button, "id", "")
		for _, o := range overrides {
			target := stringParam(o, "target", "")
			if target == "self" || (selfID != "" && target == selfID) {
				if text := stringParam(o, "text", ""); text != "" {
					outputs[schema.ControlButtonTitle] = text
				}
				break
			}
		}
	}

	return nil
}
