package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Viewport is one responsive breakpoint probed in responsive mode.
type Viewport struct {
	Name   string
	Width  int64
	Height int64
}

// Breakpoints are probed in order; the last one is left active for the final capture.
var Breakpoints = []Viewport{
	{Name: "mobile", Width: 375, Height: 812},
	{Name: "tablet", Width: 768, Height: 1024},
	{Name: "desktop", Width: 1440, Height: 900},
}

// layoutScript measures every <img> keyed by its literal src attribute.
const layoutScript = `(() => {
  const out = {};
  for (const img of Array.from(document.images)) {
    const src = img.getAttribute('src');
    if (!src || src.startsWith('data:')) continue;
    const r = img.getBoundingClientRect();
    out[src] = {width: Math.round(r.width), height: Math.round(r.height)};
  }
  return out;
})()`

const stylesScript = `Array.from(document.querySelectorAll('link[rel~="stylesheet"]')).map(l => l.href).filter(Boolean)`

const scriptsScript = `Array.from(document.scripts).map(s => s.src).filter(Boolean)`

const resourcesScript = `(performance.getEntriesByType('resource') || []).map(e => e.name)`

const pageSizeScript = `({
  scrollWidth: document.documentElement.scrollWidth,
  scrollHeight: document.documentElement.scrollHeight,
  overflowX: document.documentElement.scrollWidth > window.innerWidth
})`

const interactiveScript = `(() => {
  const q = s => document.querySelectorAll(s).length;
  return {
    buttons: q('button, [role="button"], input[type="submit"]'),
    links: q('a[href]'),
    inputs: q('input, textarea, select'),
    forms: q('form'),
    click_handlers: q('[onclick]'),
    disclosures: q('details, [aria-expanded]'),
    dialogs: q('dialog, [role="dialog"]')
  };
})()`

const animationsScript = `(() => {
  const names = new Set();
  let transitions = 0;
  const els = Array.from(document.querySelectorAll('body *')).slice(0, 2000);
  for (const el of els) {
    const cs = getComputedStyle(el);
    if (cs.animationName && cs.animationName !== 'none') cs.animationName.split(',').forEach(n => names.add(n.trim()));
    if (cs.transitionDuration && cs.transitionDuration.split(',').some(d => parseFloat(d) > 0)) transitions++;
  }
  const keyframes = [];
  for (const sheet of Array.from(document.styleSheets)) {
    try {
      for (const rule of Array.from(sheet.cssRules)) {
        if (rule.type === CSSRule.KEYFRAMES_RULE) keyframes.push(rule.name);
      }
    } catch (e) {}
  }
  return {
    running: document.getAnimations ? document.getAnimations().length : 0,
    animation_names: Array.from(names),
    transitions: transitions,
    keyframes: keyframes
  };
})()`

const styleAnalysisScript = `(() => {
  const tally = () => new Map();
  const colors = tally(), backgrounds = tally(), fonts = tally(), sizes = tally();
  const bump = (m, k) => { if (k) m.set(k, (m.get(k) || 0) + 1); };
  for (const el of Array.from(document.querySelectorAll('body *')).slice(0, 1500)) {
    const cs = getComputedStyle(el);
    bump(colors, cs.color);
    if (cs.backgroundColor !== 'rgba(0, 0, 0, 0)') bump(backgrounds, cs.backgroundColor);
    bump(fonts, cs.fontFamily);
    bump(sizes, cs.fontSize);
  }
  const top = m => Array.from(m.entries()).sort((a, b) => b[1] - a[1]).slice(0, 10).map(e => ({value: e[0], count: e[1]}));
  return {colors: top(colors), backgrounds: top(backgrounds), fonts: top(fonts), font_sizes: top(sizes)};
})()`

const navigationScript = `(() => {
  const links = [];
  const seen = new Set();
  for (const a of Array.from(document.querySelectorAll('nav a[href], header a[href], [role="navigation"] a[href]'))) {
    if (seen.has(a.href) || links.length >= 100) continue;
    seen.add(a.href);
    links.push({text: (a.textContent || '').trim().slice(0, 80), href: a.href, internal: a.host === location.host});
  }
  return {links: links, count: links.length};
})()`

// modeActions returns the extra browser steps for a capture mode. Results land
// in out.ModeData.
func modeActions(mode cloner.CaptureMode, out *cloner.Capture) []chromedp.Action {
	collect := func(key, script string) chromedp.Action {
		return chromedp.ActionFunc(func(ctx context.Context) error {
			var res any
			if err := chromedp.Evaluate(script, &res).Do(ctx); err != nil {
				return fmt.Errorf("evaluate %s: %w", key, err)
			}
			setModeData(out, key, res)
			return nil
		})
	}

	switch mode {
	case cloner.ModeResponsive:
		return []chromedp.Action{chromedp.ActionFunc(func(ctx context.Context) error {
			results := make([]map[string]any, 0, len(Breakpoints))
			for _, vp := range Breakpoints {
				var size map[string]any
				if err := chromedp.Run(ctx,
					chromedp.EmulateViewport(vp.Width, vp.Height),
					chromedp.Sleep(250*time.Millisecond),
					chromedp.Evaluate(pageSizeScript, &size),
				); err != nil {
					return fmt.Errorf("viewport %s: %w", vp.Name, err)
				}
				size["name"] = vp.Name
				size["width"] = vp.Width
				size["height"] = vp.Height
				results = append(results, size)
			}
			setModeData(out, "viewports", results)
			return nil
		})}
	case cloner.ModeInteractive:
		return []chromedp.Action{collect("interactive", interactiveScript)}
	case cloner.ModeAnimations:
		return []chromedp.Action{collect("animations", animationsScript)}
	case cloner.ModeStyleAnalysis:
		return []chromedp.Action{collect("styles", styleAnalysisScript)}
	case cloner.ModeNavigation:
		return []chromedp.Action{collect("navigation", navigationScript)}
	default:
		return nil
	}
}

func setModeData(out *cloner.Capture, key string, value any) {
	if out.ModeData == nil {
		out.ModeData = map[string]any{}
	}
	out.ModeData[key] = value
}
