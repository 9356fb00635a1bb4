package analysis

import "strings"

// Rule pairs a label with a predicate over a parsed document.
type Rule struct {
	Label string
	Match func(d *Doc) bool
}

// StaticLabel is reported when no framework rule matches.
const StaticLabel = "static"

// Frameworks is evaluated in order and the first match wins. Meta-frameworks
// precede the libraries they are built on, and jQuery precedes the static
// catch-all.
var Frameworks = []Rule{
	{Label: "Next.js", Match: func(d *Doc) bool {
		return d.Exists("#__next") || d.Has("__next_data__", "/_next/static")
	}},
	{Label: "Nuxt", Match: func(d *Doc) bool {
		return d.Exists("#__nuxt") || d.Has("window.__nuxt__", "/_nuxt/")
	}},
	{Label: "Gatsby", Match: func(d *Doc) bool {
		return d.Exists("#___gatsby") || d.Has("gatsby-")
	}},
	{Label: "Angular", Match: func(d *Doc) bool {
		return d.Exists("[ng-version]") || d.Exists("[ng-app]") || d.Has("ng-version=")
	}},
	{Label: "Vue", Match: func(d *Doc) bool {
		return d.Has("data-v-", "vue.min.js", "vue.global", "__vue__", "vue.runtime")
	}},
	{Label: "Svelte", Match: func(d *Doc) bool {
		return d.Has("__svelte", "svelte-") || d.Exists("[data-sveltekit-preload-data]")
	}},
	{Label: "React", Match: func(d *Doc) bool {
		return d.Exists("[data-reactroot]") || d.Has("react-dom", "__react", "_reactlistening")
	}},
	{Label: "jQuery", Match: func(d *Doc) bool {
		return d.Has("jquery")
	}},
	{Label: StaticLabel, Match: func(*Doc) bool { return true }},
}

// CMSRules is evaluated in order; an empty label means no CMS was recognized.
var CMSRules = []Rule{
	{Label: "WordPress", Match: func(d *Doc) bool {
		return d.Has("/wp-content/", "/wp-includes/") || generatorHas(d, "wordpress")
	}},
	{Label: "Shopify", Match: func(d *Doc) bool {
		return d.Has("cdn.shopify.com", "shopify.theme")
	}},
	{Label: "Wix", Match: func(d *Doc) bool {
		return d.Has("static.wixstatic.com", "wix-code") || generatorHas(d, "wix.com")
	}},
	{Label: "Squarespace", Match: func(d *Doc) bool {
		return d.Has("static1.squarespace.com", "squarespace-cdn")
	}},
	{Label: "Drupal", Match: func(d *Doc) bool {
		return d.Has("drupal-settings-json", "/sites/default/files/") || generatorHas(d, "drupal")
	}},
	{Label: "Joomla", Match: func(d *Doc) bool {
		return d.Has("/media/jui/", "/components/com_") || generatorHas(d, "joomla")
	}},
	{Label: "Webflow", Match: func(d *Doc) bool {
		return d.Exists("[data-wf-page]") || generatorHas(d, "webflow")
	}},
	{Label: "Ghost", Match: func(d *Doc) bool {
		return generatorHas(d, "ghost") || d.Has("ghost-portal")
	}},
}

// Libraries lists front-end libraries reported by technology detection.
// Unlike Frameworks, every matching entry is reported.
var Libraries = []Rule{
	{Label: "jQuery", Match: func(d *Doc) bool { return d.Has("jquery") }},
	{Label: "Bootstrap", Match: func(d *Doc) bool { return d.Has("bootstrap.min.css", "bootstrap.bundle", "bootstrap.min.js") }},
	{Label: "Tailwind CSS", Match: func(d *Doc) bool { return d.Has("tailwind") }},
	{Label: "Font Awesome", Match: func(d *Doc) bool { return d.Has("font-awesome", "fontawesome") }},
	{Label: "Alpine.js", Match: func(d *Doc) bool { return d.Exists("[x-data]") || d.Has("alpinejs") }},
	{Label: "Lodash", Match: func(d *Doc) bool { return d.Has("lodash") }},
	{Label: "Google Analytics", Match: func(d *Doc) bool { return d.Has("google-analytics.com", "gtag(") }},
	{Label: "Google Tag Manager", Match: func(d *Doc) bool { return d.Has("googletagmanager.com") }},
	{Label: "Google Fonts", Match: func(d *Doc) bool { return d.Has("fonts.googleapis.com") }},
}

// First returns the label of the first matching rule, or "".
func First(rules []Rule, d *Doc) string {
	for _, r := range rules {
		if r.Match(d) {
			return r.Label
		}
	}
	return ""
}

// All returns the labels of every matching rule in order.
func All(rules []Rule, d *Doc) []string {
	var out []string
	for _, r := range rules {
		if r.Match(d) {
			out = append(out, r.Label)
		}
	}
	return out
}

func generatorHas(d *Doc, needle string) bool {
	return strings.Contains(strings.ToLower(d.Generator()), needle)
}
