/*******************************************************************************
*
* Copyright 2021 The Fileset Authors
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

package serve

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

const defaultLang = "en"

//Latin American countries that fall back to the es-419 locale.
var es419Countries = map[string]bool{
	"ar": true, "bo": true, "cl": true, "co": true, "cr": true, "do": true,
	"ec": true, "fk": true, "gf": true, "gt": true, "gy": true, "hn": true,
	"mx": true, "ni": true, "pa": true, "pe": true, "pr": true, "py": true,
	"sr": true, "sv": true, "uy": true, "ve": true,
}

//Some langs (e.g. "zh-tw") fall back to special language variants
//(e.g. "zh-hant").
var langFallbacks = map[string][]string{
	"zh-cn": {"zh-hans", "zh-hant", "zh"},
	"zh-hk": {"zh-hant", "zh"},
	"zh-tw": {"zh-hant", "zh"},
}

//intlPaths returns the ordered list of manifest paths to try for an HTML
//request, derived from the user's country and preferred languages.
//
//For example, if a user is based in Canada and their browser prefers fr over
//en, a request for /foo/index.html tries:
//
//	/intl/fr_ca/foo/index.html
//	/intl/en_ca/foo/index.html
//	/intl/fr/foo/index.html
//	/intl/en/foo/index.html
//	/foo/index.html
//
//Note that the root path takes the position of the default language "en" in
//the no-country phase, so languages less preferred than "en" rank below the
//unlocalized page.
func (a *API) intlPaths(r *http.Request, path string) []string {
	country := strings.ToLower(r.Header.Get("X-Appengine-Country"))
	if country == "" {
		country = "us"
	}
	hl := strings.ToLower(r.URL.Query().Get("hl"))
	langs := fallbackLangs(hl, r.Header.Get("Accept-Language"), country)

	var result []string

	//phase 1: locales with country, e.g. /intl/<lang>_<country>/
	for _, lang := range langs {
		result = append(result, a.formatIntlPath(lang+"_"+country, path))
		//for language variants like "zh-hant", also try "zh_hant_<country>"
		if strings.Contains(lang, "-") {
			result = append(result, a.formatIntlPath(strings.ReplaceAll(lang, "-", "_")+"_"+country, path))
		}
	}

	//phase 2: locales without country, e.g. /intl/<lang>/
	for _, lang := range langs {
		result = append(result, a.formatIntlPath(lang, path))
		if strings.Contains(lang, "-") {
			result = append(result, a.formatIntlPath(strings.ReplaceAll(lang, "-", "_"), path))
		}
		if lang == defaultLang {
			result = append(result, path)
		}
	}

	return result
}

func (a *API) formatIntlPath(locale, path string) string {
	result := strings.ReplaceAll(a.cfg.IntlPathFormat, "{locale}", locale)
	return strings.ReplaceAll(result, "{path}", path)
}

//fallbackLangs returns the ordered, deduplicated list of languages to serve,
//determined by (in order): the ?hl= query parameter, the Accept-Language
//header, the country's de-facto languages, and the default language "en".
func fallbackLangs(hl, acceptLang, country string) []string {
	var result []string
	seen := make(map[string]bool)
	add := func(lang string) {
		if lang != "" && !seen[lang] {
			seen[lang] = true
			result = append(result, lang)
		}
	}

	if hl != "" {
		add(hl)
		if idx := strings.Index(hl, "-"); idx >= 0 {
			add(hl[:idx])
		}
	}

	if acceptLang != "" {
		tags, _, err := language.ParseAcceptLanguage(acceptLang)
		if err == nil {
			for _, tag := range tags {
				lang := strings.ToLower(tag.String())
				add(lang)
				for _, fallback := range langFallbacks[lang] {
					add(fallback)
				}
			}
		}
	}

	for _, lang := range countryLangs(country) {
		add(strings.ToLower(lang))
	}

	add(defaultLang)
	return result
}

//countryLangs returns the de-facto languages for a country.
func countryLangs(country string) []string {
	switch country {
	case "cn":
		return []string{"zh-cn", "zh-hans", "zh-hant", "zh"}
	case "hk":
		return []string{"zh-hk", "zh-hant", "zh"}
	case "tw":
		return []string{"zh-tw", "zh-hant", "zh"}
	}
	if es419Countries[country] {
		return []string{"es-419"}
	}
	return nil
}
