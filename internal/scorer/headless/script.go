package headless

// vitalsObserverScript is installed before any page script runs so buffered
// performance entries are captured from navigation start.
const vitalsObserverScript = `(() => {
  const state = { lcp: 0, cls: 0, longTasks: [] };
  Object.defineProperty(window, '__auditorVitals', { value: state, enumerable: false });
  const observe = (type, fn) => {
    try {
      new PerformanceObserver((list) => list.getEntries().forEach(fn)).observe({ type, buffered: true });
    } catch (_) {}
  };
  observe('largest-contentful-paint', (e) => { state.lcp = e.renderTime || e.loadTime || e.startTime; });
  observe('layout-shift', (e) => { if (!e.hadRecentInput) state.cls += e.value; });
  observe('longtask', (e) => { state.longTasks.push({ start: e.startTime, duration: e.duration }); });
})();`

// collectSignalsScript returns a JSON object matching scorer.Signals.
const collectSignalsScript = `(() => {
  const v = window.__auditorVitals || { lcp: 0, cls: 0, longTasks: [] };
  const fcpEntry = performance.getEntriesByName('first-contentful-paint')[0];
  const fcp = fcpEntry ? fcpEntry.startTime : 0;
  let tbt = 0;
  for (const t of v.longTasks) {
    if (t.start >= fcp) tbt += Math.max(0, t.duration - 50);
  }
  const text = (el) => (el.textContent || '').replace(/\s+/g, ' ').trim();
  const named = (el) =>
    (el.getAttribute('aria-label') || el.getAttribute('aria-labelledby') || el.getAttribute('title') || '').trim() !== '' ||
    text(el) !== '' ||
    el.querySelector('img[alt]:not([alt=""])') !== null;
  const labelled = (el) => {
    if ((el.getAttribute('aria-label') || el.getAttribute('aria-labelledby') || el.getAttribute('title') || '').trim() !== '') return true;
    if (el.id && document.querySelector('label[for="' + CSS.escape(el.id) + '"]')) return true;
    return el.closest('label') !== null;
  };
  const generic = new Set(['click here', 'click this', 'here', 'more', 'read more', 'learn more', 'go', 'start', 'right here', 'this']);
  const imgs = Array.from(document.images);
  const links = Array.from(document.querySelectorAll('a[href]'));
  const buttons = Array.from(document.querySelectorAll('button, [role="button"]'));
  const inputs = Array.from(document.querySelectorAll(
    'input:not([type="hidden"]):not([type="submit"]):not([type="button"]):not([type="reset"]):not([type="image"]), select, textarea'));
  const desc = document.querySelector('meta[name="description" i]');
  const robots = document.querySelector('meta[name="robots" i]');
  return {
    fcp: fcp,
    lcp: v.lcp,
    cls: v.cls,
    tbt: tbt,
    dom: {
      hasDoctype: document.doctype !== null,
      hasLang: (document.documentElement.getAttribute('lang') || '').trim() !== '',
      hasTitle: document.title.trim() !== '',
      hasDescription: !!desc && (desc.getAttribute('content') || '').trim() !== '',
      hasViewport: document.querySelector('meta[name="viewport" i]') !== null,
      hasCharset: document.querySelector('meta[charset], meta[http-equiv="content-type" i]') !== null,
      isHttps: location.protocol === 'https:',
      noindex: !!robots && /noindex|none/i.test(robots.getAttribute('content') || ''),
      imagesTotal: imgs.length,
      imagesMissingAlt: imgs.filter((i) => !i.hasAttribute('alt')).length,
      linksTotal: links.length,
      linksWithoutName: links.filter((a) => !named(a)).length,
      linksGenericText: links.filter((a) => generic.has(text(a).toLowerCase())).length,
      buttonsTotal: buttons.length,
      buttonsWithoutName: buttons.filter((b) => !named(b)).length,
      inputsTotal: inputs.length,
      inputsWithoutLabel: inputs.filter((i) => !labelled(i)).length,
    },
  };
})()`
