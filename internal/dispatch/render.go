package dispatch

import (
	"strconv"
	"strings"

	"github.com/tokopoints/campaigner/internal/audience"
)

// Render substitutes the recognized personalization tokens with the
// recipient's values. Unrecognized tokens are left untouched; the risk
// scorer already rejects them before launch.
func Render(body string, r audience.Recipient, linkURL string) string {
	first := r.Name
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}

	replacer := strings.NewReplacer(
		"{name}", r.Name,
		"{first_name}", first,
		"{points}", strconv.FormatInt(r.CurrentPoints, 10),
		"{shop_name}", r.Name,
		"{state}", r.State,
		"{phone}", r.Phone,
		"{link}", linkURL,
	)
	return replacer.Replace(body)
}
