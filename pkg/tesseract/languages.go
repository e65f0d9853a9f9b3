// Package tesseract recognizes page images with a local Tesseract install.
//
// Tesseract is reached through cgo, so the engine is only compiled with
// the "tesseract" build tag:
//
//	go build -tags tesseract
//
// This requires libtesseract and its headers. On Ubuntu/Debian:
//
//	apt-get install libtesseract-dev tesseract-ocr-eng
//
// Without the build tag the engine reports itself as not available.
package tesseract

import "strings"

// bcp47 maps primary language subtags to Tesseract traineddata names.
var bcp47 = map[string]string{
	"ar": "ara",
	"cs": "ces",
	"da": "dan",
	"de": "deu",
	"el": "ell",
	"en": "eng",
	"es": "spa",
	"fi": "fin",
	"fr": "fra",
	"he": "heb",
	"hu": "hun",
	"it": "ita",
	"ja": "jpn",
	"ko": "kor",
	"la": "lat",
	"nl": "nld",
	"no": "nor",
	"pl": "pol",
	"pt": "por",
	"ru": "rus",
	"sv": "swe",
	"tr": "tur",
	"uk": "ukr",
	"zh": "chi_sim",
}

// TessLanguage converts a BCP 47 tag such as en-US into a Tesseract
// language name. Names that already look like Tesseract's, including
// "+" separated lists, are returned unchanged.
func TessLanguage(tag string) string {
	if tag == "" {
		return "eng"
	}
	if strings.Contains(tag, "+") || strings.Contains(tag, "_") || len(tag) == 3 {
		return tag
	}
	base, region, _ := strings.Cut(tag, "-")
	base = strings.ToLower(base)
	if base == "zh" && (strings.EqualFold(region, "TW") || strings.EqualFold(region, "Hant")) {
		return "chi_tra"
	}
	if name, ok := bcp47[base]; ok {
		return name
	}
	return tag
}
