package page

import (
	"context"
	"encoding/json"
	"time"

	cdpinput "github.com/chromedp/cdproto/input"
)

// ClickOptions configures Click, mirroring spec.md §4.7's
// click(selector, button, count, modifiers, position?, force?, deadline).
type ClickOptions struct {
	Button    cdpinput.MouseButton
	Count     int64
	Modifiers int64
	Position  *Point
	Force     bool
}

// Point is a pixel offset within an element's content box.
type Point struct {
	X, Y float64
}

// Click scrolls selector's element into view (unless Force), computes the
// click point, and dispatches a mousePressed/mouseReleased pair.
func (c *Controller) Click(ctx context.Context, selector string, opts ClickOptions) error {
	h, err := c.resolveSingle(ctx, selector)
	if err != nil {
		return err
	}
	if !opts.Force {
		if err := c.scrollIntoView(ctx, h); err != nil {
			return err
		}
	}

	var x, y float64
	if opts.Position != nil {
		quad, err := c.contentQuad(ctx, h, selector)
		if err != nil {
			return err
		}
		x, y = quad[0]+opts.Position.X, quad[1]+opts.Position.Y
	} else {
		x, y, err = c.centroid(ctx, h, selector)
		if err != nil {
			return err
		}
	}

	button := opts.Button
	if button == "" {
		button = cdpinput.Left
	}
	count := opts.Count
	if count == 0 {
		count = 1
	}

	if err := c.dispatchMouse(ctx, cdpinput.MousePressed, x, y, button, count, opts.Modifiers); err != nil {
		return err
	}
	return c.dispatchMouse(ctx, cdpinput.MouseReleased, x, y, button, count, opts.Modifiers)
}

func (c *Controller) dispatchMouse(ctx context.Context, typ cdpinput.MouseType, x, y float64, button cdpinput.MouseButton, clickCount, modifiers int64) error {
	params, _ := json.Marshal(cdpinput.DispatchMouseEventParams{
		Type:       typ,
		X:          x,
		Y:          y,
		Button:     button,
		ClickCount: clickCount,
		Modifiers:  modifiers,
	})
	_, err := c.send(ctx, "Input.dispatchMouseEvent", params)
	return err
}

// Type focuses selector and issues keyDown/keyUp for each rune in text,
// waiting delay between them.
func (c *Controller) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	h, err := c.resolveSingle(ctx, selector)
	if err != nil {
		return err
	}
	if err := c.focus(ctx, h); err != nil {
		return err
	}

	for i, r := range text {
		if i > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		ch := string(r)
		downParams, _ := json.Marshal(cdpinput.DispatchKeyEventParams{Type: cdpinput.KeyDown, Text: ch, UnmodifiedText: ch})
		if _, err := c.send(ctx, "Input.dispatchKeyEvent", downParams); err != nil {
			return err
		}
		upParams, _ := json.Marshal(cdpinput.DispatchKeyEventParams{Type: cdpinput.KeyUp, Text: ch, UnmodifiedText: ch})
		if _, err := c.send(ctx, "Input.dispatchKeyEvent", upParams); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) focus(ctx context.Context, h *elementHandle) error {
	return c.callOnElement(ctx, h, `function(){this.focus();}`, nil, nil)
}

const fillScript = `function(value){
	this.focus();
	this.value = value;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

// Fill sets selector's .value directly and dispatches input/change.
func (c *Controller) Fill(ctx context.Context, selector, value string) error {
	h, err := c.resolveSingle(ctx, selector)
	if err != nil {
		return err
	}
	return c.callOnElement(ctx, h, fillScript, []any{value}, nil)
}

const checkedScript = `function(){ return !!this.checked; }`

// Check ensures selector's checkbox/radio ends up checked.
func (c *Controller) Check(ctx context.Context, selector string) error {
	return c.setChecked(ctx, selector, true)
}

// Uncheck ensures selector's checkbox ends up unchecked.
func (c *Controller) Uncheck(ctx context.Context, selector string) error {
	return c.setChecked(ctx, selector, false)
}

func (c *Controller) setChecked(ctx context.Context, selector string, want bool) error {
	h, err := c.resolveSingle(ctx, selector)
	if err != nil {
		return err
	}
	var checked bool
	if err := c.callOnElement(ctx, h, checkedScript, nil, &checked); err != nil {
		return err
	}
	if checked == want {
		return nil
	}
	if err := c.scrollIntoView(ctx, h); err != nil {
		return err
	}
	x, y, err := c.centroid(ctx, h, selector)
	if err != nil {
		return err
	}
	if err := c.dispatchMouse(ctx, cdpinput.MousePressed, x, y, cdpinput.Left, 1, 0); err != nil {
		return err
	}
	return c.dispatchMouse(ctx, cdpinput.MouseReleased, x, y, cdpinput.Left, 1, 0)
}

// SelectBy is which <option> field select_option matches against.
type SelectBy string

const (
	SelectByValue SelectBy = "value"
	SelectByText  SelectBy = "text"
	SelectByIndex SelectBy = "index"
)

const selectOptionScript = `function(values, by){
	var opts = Array.from(this.options);
	opts.forEach(function(o){ o.selected = false; });
	values.forEach(function(v){
		opts.forEach(function(o, i){
			if (by === 'value' && o.value === v) o.selected = true;
			else if (by === 'text' && o.text === v) o.selected = true;
			else if (by === 'index' && i === parseInt(v, 10)) o.selected = true;
		});
	});
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

// SelectOption selects the <option>s of selector matching values under by.
func (c *Controller) SelectOption(ctx context.Context, selector string, values []string, by SelectBy) error {
	h, err := c.resolveSingle(ctx, selector)
	if err != nil {
		return err
	}
	return c.callOnElement(ctx, h, selectOptionScript, []any{values, string(by)}, nil)
}
