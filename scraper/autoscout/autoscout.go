// Package autoscout fetches used-car search results from AutoScout24 with a
// headless browser.
package autoscout

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"autoscout-scraper/models"
	"autoscout-scraper/utils"
)

// Options tune page loading.
type Options struct {
	BaseURL     string
	PageTimeout time.Duration
	// SettleDelay is how long a results page is given to render after
	// navigation.
	SettleDelay time.Duration
}

// Fetcher reads search result pages through a Session. It is safe for
// concurrent use; each call works in its own tab.
type Fetcher struct {
	session *Session
	opts    Options
	logger  *utils.Logger
}

// NewFetcher binds a Fetcher to an open Session.
func NewFetcher(session *Session, opts Options, logger *utils.Logger) *Fetcher {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 90 * time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 3 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Fetcher{session: session, opts: opts, logger: logger}
}

// Concurrent reports that Fetch may be called from several goroutines.
func (f *Fetcher) Concurrent() bool { return true }

// card is what the in-page script extracts from one result article.
type card struct {
	ID           string `json:"id"`
	Price        string `json:"price"`
	Mileage      string `json:"mileage"`
	Registration string `json:"registration"`
	Power        string `json:"power"`
	Title        string `json:"title"`
	URL          string `json:"url"`
}

const extractCards = `
(function() {
	var results = [];
	var articles = document.querySelectorAll('article[data-guid]');
	for (var i = 0; i < articles.length; i++) {
		var a = articles[i];
		var link = a.querySelector('a[href*="/annunci/"]') || a.querySelector('a[href]');
		var title = a.querySelector('h2');
		var power = a.querySelector('[data-testid="VehicleDetails-speedometer"]');
		var price = a.getAttribute('data-price');
		if (!price) {
			var p = a.querySelector('[data-testid="regular-price"]');
			price = p ? p.innerText : '';
		}
		results.push({
			id: a.getAttribute('data-guid') || '',
			price: price || '',
			mileage: a.getAttribute('data-mileage') || '',
			registration: a.getAttribute('data-first-registration') || '',
			power: power ? power.innerText.trim() : '',
			title: title ? title.innerText.trim() : '',
			url: link ? link.href : ''
		});
	}
	return results;
})()
`

const acceptConsent = `
(function() {
	var b = document.querySelector('button[data-testid="as24-cmp-accept-all-button"]');
	if (b) { b.click(); return true; }
	return false;
})()
`

// Fetch walks up to maxPages result pages for q. It stops early at the first
// page that brings no new listings. Pages read before an error are returned
// with the error.
func (f *Fetcher) Fetch(ctx context.Context, q models.SearchQuery, maxPages int) ([]*models.RawListing, error) {
	tabCtx, closeTab, err := f.session.Tab(ctx)
	if err != nil {
		return nil, err
	}
	defer closeTab()

	seen := utils.NewIDSet()
	var listings []*models.RawListing

	for page := 1; page <= maxPages; page++ {
		pageURL := BuildURL(f.opts.BaseURL, q, page)
		f.logger.Debug("[autoscout] %s page %d: %s", q.Origin.Key, page, pageURL)

		cards, err := f.readPage(tabCtx, pageURL, page == 1)
		if err != nil {
			if ctx.Err() != nil {
				return listings, eris.Wrapf(ctx.Err(), "autoscout: %s page %d", q.Origin.Key, page)
			}
			return listings, eris.Wrapf(err, "autoscout: %s page %d", q.Origin.Key, page)
		}

		fresh := 0
		for _, rl := range toRawListings(cards, q.Origin.Key, time.Now().UTC()) {
			if rl.ListingID != "" && !seen.Add(rl.ListingID) {
				continue
			}
			listings = append(listings, rl)
			fresh++
		}

		if fresh == 0 {
			f.logger.Debug("[autoscout] %s page %d returned no new listings, stopping", q.Origin.Key, page)
			break
		}
	}

	f.logger.Info("[autoscout] %s: %d raw listings", q.Origin.Key, len(listings))
	return listings, nil
}

func (f *Fetcher) readPage(tabCtx context.Context, pageURL string, first bool) ([]card, error) {
	ctx, cancel := context.WithTimeout(tabCtx, f.opts.PageTimeout)
	defer cancel()

	var cards []card
	actions := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.Sleep(f.opts.SettleDelay),
	}
	if first {
		var clicked bool
		actions = append(actions, chromedp.Evaluate(acceptConsent, &clicked), chromedp.Sleep(time.Second))
	}
	actions = append(actions,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(time.Second),
		chromedp.Evaluate(extractCards, &cards),
	)

	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, eris.Wrap(err, "chromedp run")
	}
	return cards, nil
}

// toRawListings tags cards with their origin. Empty ids pass through so the
// cleaner can count them.
func toRawListings(cards []card, origin string, scrapedAt time.Time) []*models.RawListing {
	out := make([]*models.RawListing, 0, len(cards))
	for _, c := range cards {
		out = append(out, &models.RawListing{
			ListingID:  strings.TrimSpace(c.ID),
			RawPrice:   c.Price,
			RawMileage: c.Mileage,
			RawYear:    c.Registration,
			RawPower:   c.Power,
			Origin:     origin,
			Title:      c.Title,
			URL:        c.URL,
			ScrapedAt:  scrapedAt,
		})
	}
	return out
}

// BuildURL renders the search URL for one query page. Empty and zero filters
// are left out.
func BuildURL(baseURL string, q models.SearchQuery, page int) string {
	path := "/lst/" + slug(q.Make) + "/" + slug(q.Model)
	if q.Version != "" {
		path += "/ve_" + slug(q.Version)
	}

	v := url.Values{}
	v.Set("atype", "C")
	v.Set("cy", "I")
	v.Set("damaged_listing", "exclude")
	v.Set("desc", "0")
	v.Set("sort", "standard")
	v.Set("ustate", "N,U")
	v.Set("page", strconv.Itoa(page))
	v.Set("zip", q.Origin.Key)
	v.Set("zipr", strconv.Itoa(q.Radius))
	if q.YearFrom > 0 {
		v.Set("fregfrom", strconv.Itoa(q.YearFrom))
	}
	if q.YearTo > 0 {
		v.Set("fregto", strconv.Itoa(q.YearTo))
	}
	if q.PowerFrom > 0 {
		v.Set("powerfrom", strconv.Itoa(q.PowerFrom))
	}
	if q.PowerTo > 0 {
		v.Set("powerto", strconv.Itoa(q.PowerTo))
	}
	if q.PowerUnit != "" {
		v.Set("powertype", q.PowerUnit)
	}

	return strings.TrimRight(baseURL, "/") + path + "?" + v.Encode()
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}
