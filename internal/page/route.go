package page

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"

	"reach/internal/network"
)

// RoutedRequest is one intercepted request handed to a RouteHandler. The
// handler must call exactly one of Fulfill, Abort, or Continue.
type RoutedRequest struct {
	c         *Controller
	requestID cdpfetch.RequestID

	URL     string
	Method  string
	Headers map[string]string
}

// Fulfill completes the request with a synthetic response.
func (r *RoutedRequest) Fulfill(ctx context.Context, status int64, headers map[string]string, body []byte) error {
	hdrs := make([]*cdpfetch.HeaderEntry, 0, len(headers))
	for k, v := range headers {
		hdrs = append(hdrs, &cdpfetch.HeaderEntry{Name: k, Value: v})
	}
	params, _ := json.Marshal(cdpfetch.FulfillRequestParams{
		RequestID:       r.requestID,
		ResponseCode:    status,
		ResponseHeaders: hdrs,
		Body:            base64.StdEncoding.EncodeToString(body),
	})
	_, err := r.c.send(ctx, "Fetch.fulfillRequest", params)
	return err
}

// Abort fails the request with reason (a Network.ErrorReason string, e.g.
// "Failed", "BlockedByClient").
func (r *RoutedRequest) Abort(ctx context.Context, reason cdpnetwork.ErrorReason) error {
	params, _ := json.Marshal(cdpfetch.FailRequestParams{RequestID: r.requestID, ErrorReason: reason})
	_, err := r.c.send(ctx, "Fetch.failRequest", params)
	return err
}

// Continue lets the request proceed unmodified.
func (r *RoutedRequest) Continue(ctx context.Context) error {
	params, _ := json.Marshal(cdpfetch.ContinueRequestParams{RequestID: r.requestID})
	_, err := r.c.send(ctx, "Fetch.continueRequest", params)
	return err
}

// Route enables request interception (first call only) and registers
// handler for every request whose URL matches pattern, a full-URL glob
// per spec.md §6.
func (c *Controller) Route(ctx context.Context, pattern string, handler RouteHandler) error {
	c.mu.Lock()
	firstRoute := len(c.routes) == 0
	c.routes = append(c.routes, routeEntry{pattern: pattern, handler: handler})
	c.mu.Unlock()

	if !firstRoute {
		return nil
	}
	params, _ := json.Marshal(cdpfetch.EnableParams{})
	_, err := c.send(ctx, "Fetch.enable", params)
	return err
}

// Unroute removes every handler registered for pattern. Disables
// interception entirely once no routes remain.
func (c *Controller) Unroute(ctx context.Context, pattern string) error {
	c.mu.Lock()
	remaining := c.routes[:0]
	for _, r := range c.routes {
		if r.pattern != pattern {
			remaining = append(remaining, r)
		}
	}
	c.routes = remaining
	empty := len(c.routes) == 0
	c.mu.Unlock()

	if !empty {
		return nil
	}
	_, err := c.send(ctx, "Fetch.disable", nil)
	return err
}

func (c *Controller) onRequestPaused(_ string, params json.RawMessage) {
	var ev cdpfetch.EventRequestPaused
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	req := &RoutedRequest{c: c, requestID: ev.RequestID, URL: ev.Request.URL, Method: ev.Request.Method}
	if ev.Request.Headers != nil {
		req.Headers = make(map[string]string, len(ev.Request.Headers))
		for k, v := range ev.Request.Headers {
			if s, ok := v.(string); ok {
				req.Headers[k] = s
			}
		}
	}

	c.mu.Lock()
	var handler RouteHandler
	for _, r := range c.routes {
		if network.MatchGlob(r.pattern, ev.Request.URL) {
			handler = r.handler
			break
		}
	}
	c.mu.Unlock()

	if handler == nil {
		go func() { _ = req.Continue(context.Background()) }()
		return
	}
	go handler(req)
}

// ExposeFunction installs a binding reachable from page scripts as
// window[name](...args), forwarding calls to callback and resolving the
// JS-side promise with its result.
func (c *Controller) ExposeFunction(ctx context.Context, name string, callback BindingCallback) error {
	internalName := "__reach_invoke_" + name

	c.mu.Lock()
	c.bindings[internalName] = callback
	c.mu.Unlock()

	bridge := fmt.Sprintf(`(function(){
		window.__reachPending = window.__reachPending || {};
		window[%[1]q] = function(){
			var args = Array.prototype.slice.call(arguments);
			return new Promise(function(resolve, reject){
				var id = Math.random().toString(36).slice(2);
				window.__reachPending[id] = {resolve: resolve, reject: reject};
				window[%[2]q](JSON.stringify({id: id, args: args}));
			});
		};
	})()`, name, internalName)

	if err := c.AddInitScript(ctx, bridge); err != nil {
		return err
	}

	params, _ := json.Marshal(cdpruntime.AddBindingParams{Name: internalName})
	_, err := c.send(ctx, "Runtime.addBinding", params)
	return err
}

func (c *Controller) onBindingCalled(_ string, params json.RawMessage) {
	var ev cdpruntime.EventBindingCalled
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}

	c.mu.Lock()
	cb, ok := c.bindings[ev.Name]
	c.mu.Unlock()
	if !ok {
		return
	}

	var call struct {
		ID   string          `json:"id"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(ev.Payload), &call); err != nil {
		return
	}

	go func() {
		result, err := cb(call.Args)
		ctx := context.Background()
		var resolveExpr string
		if err != nil {
			payload, _ := json.Marshal(err.Error())
			resolveExpr = fmt.Sprintf(`window.__reachPending[%q].reject(new Error(%s)); delete window.__reachPending[%q];`, call.ID, string(payload), call.ID)
		} else {
			payload, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				return
			}
			resolveExpr = fmt.Sprintf(`window.__reachPending[%q].resolve(%s); delete window.__reachPending[%q];`, call.ID, string(payload), call.ID)
		}
		evalParams, _ := json.Marshal(cdpruntime.EvaluateParams{
			Expression:   resolveExpr,
			ContextID:    ev.ExecutionContextID,
			AwaitPromise: false,
		})
		_, _ = c.send(ctx, "Runtime.evaluate", evalParams)
	}()
}
