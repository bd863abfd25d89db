package handlers

import (
	"net/http"

	"golang.org/x/text/language"
)

const defaultLocale = "en"

// supportedLocales lists the message languages, default first
var supportedLocales = []language.Tag{
	language.English,
	language.German,
	language.Spanish,
	language.French,
	language.Chinese,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// matchLocale returns the supported primary language that best fits an
// Accept-Language style list, honoring q-weights, or "" when none fits
func matchLocale(accept string) string {
	if accept == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return ""
	}
	base, _ := supportedLocales[idx].Base()
	return base.String()
}

// requestLocale picks the locale from the lang query parameter, then the
// Accept-Language header, then the default
func requestLocale(r *http.Request) string {
	if l := matchLocale(r.URL.Query().Get("lang")); l != "" {
		return l
	}
	if l := matchLocale(r.Header.Get("Accept-Language")); l != "" {
		return l
	}
	return defaultLocale
}
