package scrape

import (
	"regexp"
	"strings"
)

// Tags whose entire subtree carries no extractable contact content.
var (
	scriptRe   = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleRe    = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	svgRe      = regexp.MustCompile(`(?is)<svg\b[^>]*>.*?</svg>`)
	noscriptRe = regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript>`)
	commentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	headRe     = regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head>`)

	// Runs of blank lines left behind after stripping.
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	trailingWS = regexp.MustCompile(`[ \t]+\n`)
)

// Clean strips scripts, styles, vector graphics, comments, and the
// document head from an HTML page. The markup structure itself is kept:
// the extractor reads element grouping to pair addresses with phone
// numbers.
func Clean(html []byte) []byte {
	s := string(html)
	s = commentRe.ReplaceAllString(s, "")
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = svgRe.ReplaceAllString(s, "")
	s = noscriptRe.ReplaceAllString(s, "")
	s = headRe.ReplaceAllString(s, "")
	s = trailingWS.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return []byte(strings.TrimSpace(s))
}
