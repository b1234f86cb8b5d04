package page

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	cdpdom "github.com/chromedp/cdproto/dom"
	cdpruntime "github.com/chromedp/cdproto/runtime"

	"reach/internal/corerrors"
)

// elementHandle pairs the two node identities CDP needs: a RemoteObjectID
// for Runtime.callFunctionOn, and a DOM NodeID for DOM.* geometry/focus
// calls. Both are resolved from the same querySelector(All)/XPath match.
type elementHandle struct {
	objectID cdpruntime.RemoteObjectID
	nodeID   cdpdom.NodeID
}

func (c *Controller) collectionExpr(loc Locator) string {
	var base string
	switch loc.Mode {
	case ModeXPath:
		base = fmt.Sprintf(`(function(){var r=document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);var out=[];for(var i=0;i<r.snapshotLength;i++){out.push(r.snapshotItem(i));}return out;})()`, strconv.Quote(loc.Expr))
	default:
		base = fmt.Sprintf("Array.from(document.querySelectorAll(%s))", strconv.Quote(loc.Expr))
	}
	if loc.Index == nil {
		return base
	}
	return fmt.Sprintf("(function(){var a=%s;var i=%d;return (a[i]!==undefined)?[a[i]]:[];})()", base, *loc.Index)
}

// resolveAll returns every element matched by selector (length 0 or 1 when
// the selector carries an @i=N suffix).
func (c *Controller) resolveAll(ctx context.Context, selector string) ([]*elementHandle, error) {
	loc, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}

	params, _ := json.Marshal(cdpruntime.EvaluateParams{
		Expression:    c.collectionExpr(loc),
		ReturnByValue: false,
	})
	res, err := c.send(ctx, "Runtime.evaluate", params)
	if err != nil {
		return nil, err
	}
	var ret cdpruntime.EvaluateReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return nil, err
	}
	if ret.ExceptionDetails != nil {
		return nil, &corerrors.ScriptError{Text: exceptionText(ret.ExceptionDetails)}
	}
	if ret.Result == nil || ret.Result.ObjectID == "" {
		return nil, nil
	}

	propParams, _ := json.Marshal(cdpruntime.GetPropertiesParams{
		ObjectID:      ret.Result.ObjectID,
		OwnProperties: true,
	})
	propsRes, err := c.send(ctx, "Runtime.getProperties", propParams)
	if err != nil {
		return nil, err
	}
	var propsRet cdpruntime.GetPropertiesReturns
	if err := json.Unmarshal(propsRes, &propsRet); err != nil {
		return nil, err
	}

	var handles []*elementHandle
	for _, p := range propsRet.Result {
		if _, err := strconv.Atoi(p.Name); err != nil {
			continue
		}
		if p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		nodeID, err := c.requestNode(ctx, p.Value.ObjectID)
		if err != nil {
			continue
		}
		handles = append(handles, &elementHandle{objectID: p.Value.ObjectID, nodeID: nodeID})
	}
	return handles, nil
}

// resolveSingle returns the first element matched by selector, or
// corerrors.ElementNotFound.
func (c *Controller) resolveSingle(ctx context.Context, selector string) (*elementHandle, error) {
	all, err := c.resolveAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, &corerrors.ElementNotFound{Selector: selector}
	}
	return all[0], nil
}

func (c *Controller) requestNode(ctx context.Context, objectID cdpruntime.RemoteObjectID) (cdpdom.NodeID, error) {
	params, _ := json.Marshal(cdpdom.RequestNodeParams{ObjectID: objectID})
	res, err := c.send(ctx, "DOM.requestNode", params)
	if err != nil {
		return 0, err
	}
	var ret cdpdom.RequestNodeReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return 0, err
	}
	return ret.NodeID, nil
}

// Query returns whether selector matches at least one element.
func (c *Controller) Query(ctx context.Context, selector string) (bool, error) {
	h, err := c.resolveSingle(ctx, selector)
	if err != nil {
		if _, ok := err.(*corerrors.ElementNotFound); ok {
			return false, nil
		}
		return false, err
	}
	return h != nil, nil
}

// QueryAll returns the number of elements selector matches.
func (c *Controller) QueryAll(ctx context.Context, selector string) (int, error) {
	all, err := c.resolveAll(ctx, selector)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// VisibilityState is the observable state wait_for_selector polls for.
type VisibilityState string

const (
	StateAttached VisibilityState = "attached"
	StateVisible  VisibilityState = "visible"
	StateHidden   VisibilityState = "hidden"
)

const waitForSelectorPollInterval = 100 * time.Millisecond

// WaitForSelector polls at a fixed interval until selector reaches state or
// deadline elapses.
func (c *Controller) WaitForSelector(ctx context.Context, selector string, state VisibilityState, deadline time.Duration) error {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(waitForSelectorPollInterval)
	defer ticker.Stop()

	check := func() (bool, error) {
		h, err := c.resolveSingle(ctx, selector)
		notFound := false
		if err != nil {
			if _, ok := err.(*corerrors.ElementNotFound); ok {
				notFound = true
			} else {
				return false, err
			}
		}
		switch state {
		case StateAttached:
			return !notFound, nil
		case StateHidden:
			if notFound {
				return true, nil
			}
			visible, err := c.isVisible(ctx, h)
			if err != nil {
				return false, err
			}
			return !visible, nil
		case StateVisible:
			if notFound {
				return false, nil
			}
			return c.isVisible(ctx, h)
		}
		return false, fmt.Errorf("page: unknown visibility state %q", state)
	}

	if ok, err := check(); err != nil {
		return err
	} else if ok {
		return nil
	}
	for {
		select {
		case <-ticker.C:
			ok, err := check()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		case <-timer.C:
			return &corerrors.LifecycleTimeout{State: string(state)}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

const isVisibleScript = `function(){
	var r=this.getBoundingClientRect();
	var cs=window.getComputedStyle(this);
	return r.width>0 && r.height>0 && cs.display!=='none' && cs.visibility!=='hidden' && cs.opacity!=='0';
}`

func (c *Controller) isVisible(ctx context.Context, h *elementHandle) (bool, error) {
	var visible bool
	if err := c.callOnElement(ctx, h, isVisibleScript, nil, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

// callOnElement invokes functionDeclaration with this bound to h's element
// and args passed positionally, decoding the by-value result into out.
func (c *Controller) callOnElement(ctx context.Context, h *elementHandle, functionDeclaration string, args []any, out any) error {
	callArgs := make([]*cdpruntime.CallArgument, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return err
		}
		callArgs = append(callArgs, &cdpruntime.CallArgument{Value: raw})
	}
	params, _ := json.Marshal(cdpruntime.CallFunctionOnParams{
		FunctionDeclaration: functionDeclaration,
		ObjectID:            h.objectID,
		Arguments:           callArgs,
		ReturnByValue:       true,
		AwaitPromise:        true,
	})
	res, err := c.send(ctx, "Runtime.callFunctionOn", params)
	if err != nil {
		return err
	}
	var ret cdpruntime.CallFunctionOnReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return err
	}
	if ret.ExceptionDetails != nil {
		return &corerrors.ScriptError{Text: exceptionText(ret.ExceptionDetails)}
	}
	if out == nil || ret.Result == nil || len(ret.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(ret.Result.Value, out)
}

// contentQuad returns h's content-box quad: 4 (x,y) corner pairs, starting
// top-left, clockwise.
func (c *Controller) contentQuad(ctx context.Context, h *elementHandle, selector string) ([]float64, error) {
	params, _ := json.Marshal(cdpdom.GetBoxModelParams{NodeID: h.nodeID})
	res, err := c.send(ctx, "DOM.getBoxModel", params)
	if err != nil {
		return nil, err
	}
	var ret cdpdom.GetBoxModelReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return nil, err
	}
	if ret.Model == nil || len(ret.Model.Content) < 8 {
		return nil, &corerrors.NoBoundingBox{Selector: selector}
	}
	return ret.Model.Content, nil
}

// centroid computes the content-quad centroid of h's element, for Click's
// point computation.
func (c *Controller) centroid(ctx context.Context, h *elementHandle, selector string) (x, y float64, err error) {
	quad, err := c.contentQuad(ctx, h, selector)
	if err != nil {
		return 0, 0, err
	}
	var sumX, sumY float64
	for i := 0; i < 8; i += 2 {
		sumX += quad[i]
		sumY += quad[i+1]
	}
	return sumX / 4, sumY / 4, nil
}

func (c *Controller) scrollIntoView(ctx context.Context, h *elementHandle) error {
	params, _ := json.Marshal(cdpdom.ScrollIntoViewIfNeededParams{NodeID: h.nodeID})
	_, err := c.send(ctx, "DOM.scrollIntoViewIfNeeded", params)
	return err
}
