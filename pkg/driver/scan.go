package driver

import (
	"encoding/json"
	"fmt"

	"github.com/entrhq/formforge/pkg/form"
)

// ScanScript is evaluated in every frame by browser adapters. It returns the
// interactive controls of the frame in document order.
const ScanScript = `() => {
  const sel = 'input, select, textarea, button, [role="combobox"], [role="listbox"], ' +
    '[role="checkbox"], [role="radio"], [role="radiogroup"], [role="button"], [contenteditable="true"]';
  const esc = (s) => (window.CSS && CSS.escape) ? CSS.escape(s) : s.replace(/([^\w-])/g, '\\$1');
  const q = (s) => s.replace(/"/g, '\\"');
  const selectorFor = (el) => {
    const tag = el.tagName.toLowerCase();
    if (el.id) return '#' + esc(el.id);
    const name = el.getAttribute('name');
    if (name) {
      if (el.type === 'radio' || el.type === 'checkbox') {
        return tag + '[name="' + q(name) + '"][value="' + q(el.value || '') + '"]';
      }
      return tag + '[name="' + q(name) + '"]';
    }
    const tid = el.getAttribute('data-testid');
    if (tid) return '[data-testid="' + q(tid) + '"]';
    const parts = [];
    let cur = el;
    while (cur && cur.nodeType === 1 && cur !== document.body) {
      const t = cur.tagName.toLowerCase();
      const parent = cur.parentElement;
      if (!parent) break;
      const same = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
      parts.unshift(same.length > 1 ? t + ':nth-of-type(' + (same.indexOf(cur) + 1) + ')' : t);
      cur = parent;
    }
    return 'body > ' + parts.join(' > ');
  };
  const labelFor = (el) => {
    if (el.id) {
      const l = document.querySelector('label[for="' + q(el.id) + '"]');
      if (l) return l.innerText.trim();
    }
    const wrap = el.closest('label');
    if (wrap) return wrap.innerText.trim();
    const aria = el.getAttribute('aria-label');
    if (aria) return aria.trim();
    const by = el.getAttribute('aria-labelledby');
    if (by) {
      const t = by.split(/\s+/).map(id => document.getElementById(id)).filter(Boolean)
        .map(n => n.innerText.trim()).join(' ');
      if (t) return t;
    }
    if (el.placeholder) return el.placeholder.trim();
    if (el.tagName === 'BUTTON' || el.type === 'submit') return (el.innerText || el.value || '').trim();
    return '';
  };
  const out = [];
  for (const el of document.querySelectorAll(sel)) {
    if (el.type === 'hidden') continue;
    const rect = el.getBoundingClientRect();
    if (el.type !== 'file' && rect.width === 0 && rect.height === 0) continue;
    const attrs = {};
    for (const a of el.attributes) attrs[a.name] = a.value;
    const html = el.outerHTML;
    out.push({
      selector: selectorFor(el),
      tag: el.tagName.toLowerCase(),
      type: (el.getAttribute('type') || '').toLowerCase(),
      role: (el.getAttribute('role') || '').toLowerCase(),
      label: labelFor(el),
      attrs: attrs,
      classes: Array.from(el.classList),
      outer_html: html.length > 8000 ? html.slice(0, 8000) : html,
      required: !!el.required || el.getAttribute('aria-required') === 'true',
    });
  }
  return out;
}`

// DecodeScan converts the script result into raw elements tagged with frame.
func DecodeScan(frame form.FramePath, result interface{}) ([]RawElement, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode scan result: %w", err)
	}
	return DecodeScanJSON(frame, data)
}

// DecodeScanJSON is DecodeScan for an already encoded result.
func DecodeScanJSON(frame form.FramePath, data []byte) ([]RawElement, error) {
	var raws []RawElement
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode scan result: %w", err)
	}
	for i := range raws {
		raws[i].Frame = frame
	}
	return raws, nil
}
