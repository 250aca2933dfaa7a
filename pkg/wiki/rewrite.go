// Package wiki proxies upstream Simple Wikipedia pages: fetch, rewrite
// for iframe embedding, cache, and fall back to a locally generated page
// when the upstream is unreachable.
package wiki

import (
	"regexp"
)

// Origin is the upstream wiki the proxy reads from.
const Origin = "https://simple.wikipedia.org"

var (
	scriptTagPattern = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	headOpenPattern  = regexp.MustCompile(`(?i)<head[^>]*>`)
	bodyClosePattern = regexp.MustCompile(`(?i)</body\s*>`)
)

// bridgeScript is injected into every proxied page. It forwards link
// clicks inside the iframe to the parent frame as wikirace:navigate
// messages and rewrites navigation back through the proxy.
const bridgeScript = `
<script>
(function () {
  var replayMode = false

  function setReplayMode(enabled) {
    replayMode = !!enabled
  }

  window.addEventListener("message", function (event) {
    var data = event && event.data
    if (!data || typeof data !== "object") return
    if (data.type === "wikirace:setReplayMode") {
      setReplayMode(!!data.enabled)
    }
  })

  function decodePart(raw) {
    try {
      return decodeURIComponent(raw)
    } catch {
      return raw
    }
  }

  function titleFromHref(href) {
    if (!href) return null
    try {
      var url = new URL(href, "https://simple.wikipedia.org/")
      if (!url.pathname || !url.pathname.startsWith("/wiki/")) return null
      var title = url.pathname.slice("/wiki/".length)
      title = decodePart(title)
      title = title.replaceAll("_", " ")
      return title
    } catch {
      return null
    }
  }

  function toProxyPath(title) {
    return "/wiki/" + encodeURIComponent(title.replaceAll(" ", "_"))
  }

  function notifyParentCurrentTitle() {
    try {
      var raw = location.pathname.startsWith("/wiki/")
        ? location.pathname.slice("/wiki/".length)
        : ""
      if (!raw) return
      var title = decodePart(raw).replaceAll("_", " ")
      if (!title) return
      window.parent.postMessage({ type: "wikirace:navigate", title: title }, "*")
    } catch {
      // ignore
    }
  }

  document.addEventListener(
    "click",
    function (event) {
      var target = event.target
      if (!(target instanceof Element)) return
      var anchor = target.closest("a")
      if (!anchor) return

      // allow opening in new tab / non-left clicks
      if (event.defaultPrevented) return
      if (event.button !== 0) return
      if (event.metaKey || event.ctrlKey || event.shiftKey || event.altKey) return

      var title = titleFromHref(anchor.getAttribute("href") || anchor.href)
      if (!title) return

      // ignore same-page section links
      try {
        if (title.replaceAll("_", " ") === decodePart(location.pathname.slice("/wiki/".length)).replaceAll("_", " ") && anchor.hash) {
          return
        }
      } catch {
        // ignore
      }

      if (replayMode) {
        event.preventDefault()
        return
      }

      event.preventDefault()

      try {
        window.parent.postMessage({ type: "wikirace:navigate", title: title }, "*")
      } catch {
        // ignore
      }

      window.location.href = toProxyPath(title)
    },
    true
  )

  // Keep parent state in sync even if navigation happens via browser controls
  // (back/forward) or non-standard links.
  notifyParentCurrentTitle()
  window.addEventListener("popstate", notifyParentCurrentTitle)
})()
</script>
`

// StripScripts removes every script element. Third-party scripts must
// not interfere with the embedded page; only the content is needed.
func StripScripts(html string) string {
	return scriptTagPattern.ReplaceAllString(html, "")
}

// InjectBaseHref points relative URLs back at the upstream origin. The
// tag goes right after the opening head tag, or in front of everything
// when the document has none.
func InjectBaseHref(html string) string {
	baseTag := `<base href="` + Origin + `/" />`
	loc := headOpenPattern.FindStringIndex(html)
	if loc == nil {
		return baseTag + html
	}
	return html[:loc[1]] + baseTag + html[loc[1]:]
}

// InjectBridge places the click bridge before the closing body tag, or
// appends it when the document has none.
func InjectBridge(html string) string {
	loc := bodyClosePattern.FindStringIndex(html)
	if loc == nil {
		return html + bridgeScript
	}
	return html[:loc[0]] + bridgeScript + html[loc[0]:]
}

// Rewrite prepares an upstream page for the game iframe.
func Rewrite(html string) string {
	html = StripScripts(html)
	html = InjectBaseHref(html)
	html = InjectBridge(html)
	return html
}
